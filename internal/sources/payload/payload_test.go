package payload

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

type stubFetcher struct {
	pages map[string]string
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	s.calls = append(s.calls, target)
	body, ok := s.pages[target]
	if !ok {
		return harvest.FetchResponse{}, &harvest.FetchError{Source: req.Source, URL: target, StatusCode: 404, Kind: harvest.FetchClient}
	}
	return harvest.FetchResponse{URL: target, StatusCode: 200, Body: []byte(body)}, nil
}

func TestLenientScalars(t *testing.T) {
	t.Parallel()

	var item struct {
		ID    ID     `json:"id"`
		Alt   ID     `json:"alt"`
		Lat   *Float `json:"lat"`
		Lon   *Float `json:"lon"`
		Count *Int   `json:"count"`
		None  *Float `json:"none"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "alt": " x1 ", "lat": "59.5", "lon": 10.25, "count": 12.0, "none": null}`), &item))
	assert.Equal(t, ID("42"), item.ID)
	assert.Equal(t, ID("x1"), item.Alt)
	assert.InDelta(t, 59.5, float64(*item.Lat), 1e-9)
	assert.Equal(t, Int(12), *item.Count)
	assert.Nil(t, item.None)

	var bad struct {
		Count *Int `json:"count"`
	}
	require.Error(t, json.Unmarshal([]byte(`{"count": 1.5}`), &bad))
}

func TestFloatRejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`"NaN"`, `"Inf"`, `"-Infinity"`, `"+inf"`} {
		var f Float
		require.Error(t, json.Unmarshal([]byte(raw), &f), raw)
	}
	var n Int
	require.Error(t, json.Unmarshal([]byte(`"Infinity"`), &n))
}

func TestQuality(t *testing.T) {
	t.Parallel()

	q, err := Quality(nil)
	require.NoError(t, err)
	assert.Nil(t, q)

	for _, v := range []Float{0, 3.5, 5} {
		q, err := Quality(&v)
		require.NoError(t, err)
		assert.InDelta(t, float64(v), *q, 1e-9)
	}
	for _, v := range []Float{-0.5, 5.01, 42} {
		_, err := Quality(&v)
		require.Error(t, err, v)
	}
}

func TestCoordinates(t *testing.T) {
	t.Parallel()

	lat, lon := Float(59), Float(10)
	la, lo, err := Coordinates(&lat, &lon)
	require.NoError(t, err)
	assert.Equal(t, 59.0, *la)
	assert.Equal(t, 10.0, *lo)

	la, lo, err = Coordinates(&lat, nil)
	require.NoError(t, err)
	assert.Nil(t, la)
	assert.Nil(t, lo)

	bad := Float(95)
	_, _, err = Coordinates(&bad, &lon)
	require.Error(t, err)
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NO", CountryCode(" no ", "SE"))
	assert.Equal(t, "SE", CountryCode("Norway", "se"))
	assert.Empty(t, CountryCode("Norway", ""))
	assert.Equal(t, []string{"boulder", "sport", "via_ferrata"}, Styles([]string{"Sport", " boulder", "Via Ferrata", "sport", ""}))
	assert.Equal(t, harvest.AccessClosed, AccessStatus("Banned"))
	assert.Equal(t, harvest.AccessRestricted, AccessStatus("seasonal"))
	assert.Empty(t, AccessStatus("unknown"))
	assert.Equal(t, "https://a.test/api/crags", Join("https://a.test/api/", "/crags"))
}

func TestScopeQuery(t *testing.T) {
	t.Parallel()

	q := ScopeQuery(harvest.Scope{
		Country:  "NO",
		AreaPath: []string{"Europe", "Norway"},
		BBox:     &harvest.BBox{West: 4, South: 57.5, East: 32, North: 72},
	})
	assert.Equal(t, "NO", q.Get("country"))
	assert.Equal(t, "Europe/Norway", q.Get("path"))
	assert.Equal(t, "4,57.5,32,72", q.Get("bbox"))
	assert.Empty(t, ScopeQuery(harvest.Scope{}))
}

func TestListerFollowsNextLinks(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{
		"https://a.test/crags?country=NO": `{"crags":[{"id":1},{"id":2}],"next":"/crags?page=2"}`,
		"https://a.test/crags?page=2":     `{"crags":[{"id":3}],"next":null}`,
	}}
	l := Lister{Fetcher: f, Source: "a", MaxPages: 5}

	var got []string
	for raw, err := range l.Items(context.Background(), "https://a.test/crags", url.Values{"country": {"NO"}}, "crags") {
		require.NoError(t, err)
		got = append(got, string(raw))
	}
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}, got)
	assert.Len(t, f.calls, 2)
}

func TestListerStopsAtMaxPagesAndLoops(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{
		"https://a.test/crags": `{"crags":[{"id":1}],"next":"https://a.test/crags"}`,
	}}
	l := Lister{Fetcher: f, Source: "a", MaxPages: 10}
	n := 0
	for _, err := range l.Items(context.Background(), "https://a.test/crags", nil, "crags") {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n, "self-referencing next link is not refetched")
}

func TestListerYieldsFetchError(t *testing.T) {
	t.Parallel()

	l := Lister{Fetcher: &stubFetcher{}, Source: "a"}
	var errs []error
	for _, err := range l.Items(context.Background(), "https://a.test/missing", nil, "crags") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	var fe *harvest.FetchError
	assert.True(t, errors.As(errs[0], &fe))
}

func TestListerIsLazy(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{}
	l := Lister{Fetcher: f, Source: "a"}
	_ = l.Items(context.Background(), "https://a.test/crags", nil, "crags")
	assert.Empty(t, f.calls)
}

func TestDecodePageRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	_, err := DecodePage([]byte(`<html>`), "crags")
	require.Error(t, err)
	_, err = DecodePage([]byte(`{"crags": {}}`), "crags")
	require.Error(t, err)

	page, err := DecodePage([]byte(`{"other": []}`), "crags")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}
