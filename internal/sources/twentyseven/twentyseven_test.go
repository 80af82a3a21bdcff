package twentyseven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crag-crawler/internal/fetch"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

const cragPage = `<html><body>
<div class="info"><span>Approach: <b>15</b> min</span></div>
<span class="badge style">Boulder</span>
<span class="badge style">Deep Water Solo</span>
<span class="badge grade">7a</span>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/areas.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"areas":[
			{"id": "no", "name": "Norway", "type": "country"},
			{"id": 5, "name": "Flatanger", "parent_id": "no", "url": "/areas/flatanger"}
		]}`))
	})
	mux.HandleFunc("/crags.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"crags":[
			{"id": 7, "name": "Hanshelleren", "area_id": 5, "lat": 64.49, "lon": 10.79,
			 "route_count": "55", "styles": ["sport"], "rating": 4.8, "url": "/crags/hanshelleren"},
			{"id": 8, "name": "Broken", "route_count": -1},
			{"id": 10, "name": "Odd Rating", "rating": "NaN"},
			{"id": 9, "name": "Missing Page", "latitude": 60, "longitude": 5, "url": "/crags/missing"}
		]}`))
	})
	mux.HandleFunc("/crags/hanshelleren", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(cragPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(t *testing.T, base string, enrich bool) *Scraper {
	t.Helper()
	robots := false
	client := fetch.New(fetch.Config{Defaults: fetch.Policy{
		MinDelay: time.Millisecond, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond,
		RespectRobots: &robots,
	}}, nil)
	s, err := New(Config{BaseURL: base, Fetcher: client, EnrichHTML: enrich})
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, s *Scraper) ([]harvest.Crag, int) {
	t.Helper()
	var crags []harvest.Crag
	parseErrs := 0
	for c, err := range s.ListCrags(context.Background(), harvest.Scope{Country: "NO"}) {
		if err != nil {
			require.True(t, harvest.IsParseError(err), "unexpected terminal error %v", err)
			parseErrs++
			continue
		}
		crags = append(crags, c)
	}
	return crags, parseErrs
}

func TestListCragsWithoutEnrichment(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	crags, parseErrs := collect(t, newScraper(t, srv.URL, false))
	require.Len(t, crags, 2)
	assert.Equal(t, 2, parseErrs, "negative count and NaN rating")

	h := crags[0]
	assert.Equal(t, "7", h.SourceID)
	assert.Equal(t, Name, h.SourceName)
	assert.Equal(t, "NO", h.CountryCode)
	assert.Equal(t, 55, *h.NumRoutes)
	assert.InDelta(t, 4.8, *h.QualityScore, 1e-9)
	assert.Equal(t, srv.URL+"/crags/hanshelleren", h.SourceURL)
	assert.Equal(t, []string{"sport"}, h.ClimbingStyles)
	assert.Nil(t, h.ApproachMinutes)

	assert.InDelta(t, 60.0, *crags[1].Lat, 1e-9)
}

func TestListCragsWithEnrichment(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	crags, parseErrs := collect(t, newScraper(t, srv.URL, true))
	require.Len(t, crags, 2, "failed enrichment keeps the crag")
	assert.Equal(t, 2, parseErrs, "negative count and NaN rating")

	h := crags[0]
	require.NotNil(t, h.ApproachMinutes)
	assert.Equal(t, 15, *h.ApproachMinutes)
	assert.Equal(t, []string{"boulder", "deep_water_solo", "sport"}, h.ClimbingStyles)
}

func TestListRegions(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	var regions []harvest.Region
	for r, err := range newScraper(t, srv.URL, false).ListRegions(context.Background(), harvest.Scope{Country: "NO"}) {
		require.NoError(t, err)
		regions = append(regions, r)
	}
	require.Len(t, regions, 2)
	assert.Equal(t, harvest.RegionCountry, regions[0].Type)
	assert.Equal(t, harvest.RegionSubarea, regions[1].Type)
	assert.Equal(t, "no", regions[1].ParentID)
	assert.Equal(t, srv.URL+"/areas/flatanger", regions[1].SourceURL)
}

func TestParseCragPage(t *testing.T) {
	t.Parallel()

	details, err := parseCragPage([]byte(cragPage))
	require.NoError(t, err)
	require.NotNil(t, details.ApproachMinutes)
	assert.Equal(t, 15, *details.ApproachMinutes)
	assert.Equal(t, []string{"Boulder", "Deep Water Solo"}, details.Styles)

	details, err = parseCragPage([]byte(`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	assert.Nil(t, details.ApproachMinutes)
	assert.Empty(t, details.Styles)
}
