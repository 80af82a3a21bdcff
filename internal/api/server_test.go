package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(nil).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_MetricsExposed(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	server.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_CreateRun_Succeeds(t *testing.T) {
	t.Parallel()

	var got config.Config
	run := func(_ context.Context, cfg config.Config) (harvest.RunSummary, error) {
		got = cfg
		return harvest.RunSummary{RunID: "run-1", UniqueCrags: 4, PassedFilters: 3}, nil
	}
	server := newTestServer(run)

	body := `{"config":"crags.yml","output":"out/x.ndjson","geojson":"out/x.geojson"}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var summary harvest.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, 3, summary.PassedFilters)
	require.Equal(t, "out/x.ndjson", got.Output.NDJSONPath)
	require.Equal(t, "out/x.geojson", got.Output.GeoJSONPath)
}

func TestServer_CreateRun_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing config", body: `{"output":"x.ndjson"}`, want: "config path required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(tc.body))
			newTestServer(nil).Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestServer_CreateRun_ConfigFileMissing(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, failRun, zap.NewNop())
	body := fmt.Sprintf(`{"config":%q}`, filepath.Join(t.TempDir(), "absent.yml"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crags.yml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  workers: 2\n"), 0o600))

	server := NewServer(nil, failRun, zap.NewNop())
	body := fmt.Sprintf(`{"config":%q}`, path)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "sources")
}

func TestServer_CreateRun_RunErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         error
		summary     harvest.RunSummary
		wantStatus  int
		wantSummary bool
	}{
		{
			name:       "unknown source",
			err:        &harvest.ConfigError{Field: "sources.name", Reason: `unknown source "nope"`},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "write failure",
			err:         &harvest.WriteError{Path: "/ro/crags.ndjson", Op: "mkdir", Err: errors.New("read-only file system")},
			summary:     harvest.RunSummary{RunID: "run-2", UniqueCrags: 9},
			wantStatus:  http.StatusInternalServerError,
			wantSummary: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			run := func(context.Context, config.Config) (harvest.RunSummary, error) { return tc.summary, tc.err }
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"config":"crags.yml"}`))
			newTestServer(run).Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			var resp runFailure
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.err.Error(), resp.Error)
			if tc.wantSummary {
				require.NotNil(t, resp.Summary)
				require.Equal(t, 9, resp.Summary.UniqueCrags)
			} else {
				require.Nil(t, resp.Summary)
			}
		})
	}
}

func TestServer_CreateRun_EndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/areas", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"areas":[{"id": 1, "name": "Norway", "type": "country", "country": "NO"}]}`))
	})
	mux.HandleFunc("/api/crags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"crags":[
			{"id": 11, "name": "Sunny Wall", "areaId": 1, "country": "NO", "point": {"lat": 59.91, "lon": 10.75}, "routeCount": 40},
			{"id": 12, "name": "Sunny  Wall", "areaId": 1, "country": "NO", "point": {"lat": 59.9101, "lon": 10.7502}, "routeCount": 2}
		]}`))
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "crags.yml")
	yaml := fmt.Sprintf(`sources:
  - name: thecrag
    base_url: %s/api
fetch:
  min_delay: 1ms
  backoff_base: 1ms
  backoff_max: 2ms
  respect_robots: false
output:
  regions_path: %s
`, upstream.URL, filepath.Join(dir, "regions.ndjson"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	server := NewServer(nil, nil, zap.NewNop())
	body := fmt.Sprintf(`{"config":%q,"output":%q}`, cfgPath, filepath.Join(dir, "out", "crags.ndjson"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary harvest.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.RawCrags)
	assert.Equal(t, 1, summary.UniqueCrags)
	assert.Equal(t, 1, summary.Regions)
	require.Len(t, summary.Outputs, 2)
	assert.FileExists(t, filepath.Join(dir, "out", "crags.ndjson"))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(nil).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	run := func(context.Context, config.Config) (harvest.RunSummary, error) { panic("boom") }
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(`{"config":"crags.yml"}`))
	newTestServer(run).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func failRun(context.Context, config.Config) (harvest.RunSummary, error) {
	return harvest.RunSummary{}, errors.New("run should not be reached")
}

func stubLoad(string) (config.Config, error) {
	return config.Config{}, nil
}

func newTestServer(run RunFunc) *Server {
	if run == nil {
		run = failRun
	}
	return NewServer(stubLoad, run, zap.NewNop())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
