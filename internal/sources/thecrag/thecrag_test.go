package thecrag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crag-crawler/internal/fetch"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/areas", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "NO", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`{"areas":[
			{"id": 1, "name": "Norway", "type": "country", "country": "NO"},
			{"id": 2, "name": "Oslo", "parentId": 1},
			{"name": "no id"}
		]}`))
	})
	mux.HandleFunc("/api/crags", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"crags":[
				{"id": "c3", "name": "Bad Point", "point": {"lat": 123, "lon": 10}},
				{"id": "c4", "name": "Hyped", "quality": "Inf"},
				{"id": "c5", "name": "Unrated", "quality": "NaN"},
				{"id": "c6", "name": "Off Scale", "quality": 9}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"crags":[
			{"id": 11, "name": " Sunny Wall ", "areaId": 2, "point": {"latitude": "59.91", "longitude": 10.75},
			 "styles": ["Sport", "Trad"], "routeCount": 40, "quality": 4.2, "access": "Open",
			 "state": "Oslo", "locality": "Nordstrand", "elevation": 120, "url": "/climbing/norway/sunny-wall"},
			{"id": 12, "name": "Nowhere"},
			"garbage"
		], "next": "/api/crags?page=2"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(t *testing.T, srv *httptest.Server) *Scraper {
	t.Helper()
	robots := false
	client := fetch.New(fetch.Config{Defaults: fetch.Policy{
		MinDelay: time.Millisecond, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond,
		RespectRobots: &robots,
	}}, nil)
	s, err := New(Config{
		BaseURL: srv.URL + "/api",
		Fetcher: client,
		Clock:   fixedClock{time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return s
}

func TestListCrags(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, &hits)
	s := newScraper(t, srv)

	var crags []harvest.Crag
	var parseErrs int
	for c, err := range s.ListCrags(context.Background(), harvest.Scope{Country: "no"}) {
		if err != nil {
			require.True(t, harvest.IsParseError(err), "unexpected terminal error %v", err)
			parseErrs++
			continue
		}
		crags = append(crags, c)
	}
	require.Len(t, crags, 2)
	assert.Equal(t, 5, parseErrs, "garbage item, out-of-range point and three bad quality scores")

	sunny := crags[0]
	assert.Equal(t, "11", sunny.SourceID)
	assert.Equal(t, Name, sunny.SourceName)
	assert.Equal(t, "Sunny Wall", sunny.Name)
	assert.Equal(t, "NO", sunny.CountryCode)
	assert.Equal(t, "2", sunny.RegionID)
	require.True(t, sunny.HasCoordinates())
	assert.InDelta(t, 59.91, *sunny.Lat, 1e-9)
	assert.Equal(t, []string{"sport", "trad"}, sunny.ClimbingStyles)
	assert.Equal(t, 40, *sunny.NumRoutes)
	assert.Equal(t, harvest.AccessOpen, sunny.AccessStatus)
	assert.Equal(t, []string{"Nordstrand"}, sunny.Subregion)
	assert.Equal(t, 120, *sunny.ElevationM)
	assert.InDelta(t, 4.2, *sunny.QualityScore, 1e-9)
	assert.Equal(t, srv.URL+"/climbing/norway/sunny-wall", sunny.SourceURL)

	assert.False(t, crags[1].HasCoordinates())
	assert.Nil(t, crags[1].NumRoutes)
}

func TestParseCragRejectsBadQuality(t *testing.T) {
	t.Parallel()

	s := &Scraper{baseURL: "https://www.thecrag.test/api"}
	for _, raw := range []string{
		`{"id": 1, "name": "A", "quality": "NaN"}`,
		`{"id": 1, "name": "A", "quality": "-Infinity"}`,
		`{"id": 1, "name": "A", "quality": -1}`,
		`{"id": 1, "name": "A", "quality": 5.5}`,
	} {
		_, err := s.parseCrag(json.RawMessage(raw), harvest.Scope{})
		var perr *harvest.ParseError
		require.ErrorAs(t, err, &perr, raw)
		assert.Equal(t, Name, perr.Source)
	}

	c, err := s.parseCrag(json.RawMessage(`{"id": 1, "name": "A", "quality": "5", "url": "https://elsewhere.test/a"}`), harvest.Scope{})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, *c.QualityScore, 1e-9)
	assert.Equal(t, "https://elsewhere.test/a", c.SourceURL)
}

func TestListRegions(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	s := newScraper(t, newServer(t, &hits))

	var regions []harvest.Region
	for r, err := range s.ListRegions(context.Background(), harvest.Scope{Country: "NO"}) {
		if harvest.IsParseError(err) {
			continue
		}
		require.NoError(t, err)
		regions = append(regions, r)
	}
	require.Len(t, regions, 2)
	assert.Equal(t, harvest.RegionCountry, regions[0].Type)
	assert.Equal(t, "1", regions[1].ParentID)
	assert.Equal(t, harvest.RegionArea, regions[1].Type)
}

func TestSequencesAreLazyAndRestartable(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	s := newScraper(t, newServer(t, &hits))

	seq := s.ListRegions(context.Background(), harvest.Scope{Country: "NO"})
	assert.Zero(t, hits.Load())

	count := func() int {
		n := 0
		for _, err := range seq {
			if err == nil {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())
	assert.Equal(t, int32(2), hits.Load())
}

func TestListCragsTerminalError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	s := newScraper(t, srv)

	var errs []error
	for _, err := range s.ListCrags(context.Background(), harvest.Scope{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.False(t, harvest.IsParseError(errs[0]))
	var fe *harvest.FetchError
	require.True(t, errors.As(errs[0], &fe))
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
