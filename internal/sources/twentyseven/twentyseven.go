// Package twentyseven scrapes 27crags.com: JSON listings plus optional HTML
// enrichment from individual crag pages.
package twentyseven

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/sources/payload"
)

// Name is the registry name of this source.
const Name = "27crags"

// DefaultBaseURL is the public site root.
const DefaultBaseURL = "https://27crags.com"

// DefaultMaxPages bounds pagination per listing.
const DefaultMaxPages = 50

// Config wires a Scraper.
type Config struct {
	BaseURL    string
	MaxPages   int
	EnrichHTML bool
	Fetcher    harvest.Fetcher
	Clock      harvest.Clock
	Logger     *zap.Logger
}

// Scraper implements harvest.Scraper for 27crags.
type Scraper struct {
	baseURL string
	enrich  bool
	fetcher harvest.Fetcher
	lister  payload.Lister
	clock   harvest.Clock
	logger  *zap.Logger
}

type area struct {
	ID       payload.ID    `json:"id"`
	Name     string        `json:"name"`
	ParentID payload.ID    `json:"parent_id"`
	Country  string        `json:"country"`
	Type     string        `json:"type"`
	URL      string        `json:"url"`
	BBox     *harvest.BBox `json:"bbox"`
}

type crag struct {
	ID           payload.ID     `json:"id"`
	Name         string         `json:"name"`
	AreaID       payload.ID     `json:"area_id"`
	Lat          *payload.Float `json:"lat"`
	Latitude     *payload.Float `json:"latitude"`
	Lon          *payload.Float `json:"lon"`
	Longitude    *payload.Float `json:"longitude"`
	Country      string         `json:"country"`
	Region       string         `json:"region"`
	Municipality string         `json:"municipality"`
	RouteCount   *payload.Int   `json:"route_count"`
	Styles       []string       `json:"styles"`
	RockType     string         `json:"rock_type"`
	GradeMin     string         `json:"grade_min"`
	GradeMax     string         `json:"grade_max"`
	Rating       *payload.Float `json:"rating"`
	Approach     *payload.Int   `json:"approach_minutes"`
	Access       string         `json:"access_status"`
	AccessNotes  string         `json:"access_notes"`
	URL          string         `json:"url"`
}

// New builds a Scraper.
func New(cfg Config) (*Scraper, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("27crags: fetcher is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		baseURL: base,
		enrich:  cfg.EnrichHTML,
		fetcher: cfg.Fetcher,
		lister:  payload.Lister{Fetcher: cfg.Fetcher, Source: Name, MaxPages: maxPages},
		clock:   cfg.Clock,
		logger:  logger.Named("twentyseven"),
	}, nil
}

// Name implements harvest.Scraper.
func (s *Scraper) Name() string { return Name }

// ListRegions implements harvest.Scraper.
func (s *Scraper) ListRegions(ctx context.Context, scope harvest.Scope) iter.Seq2[harvest.Region, error] {
	return func(yield func(harvest.Region, error) bool) {
		for raw, err := range s.lister.Items(ctx, payload.Join(s.baseURL, "areas.json"), payload.ScopeQuery(scope), "areas") {
			if err != nil {
				yield(harvest.Region{}, err)
				return
			}
			region, perr := s.parseArea(raw, scope)
			if !yield(region, perr) {
				return
			}
		}
	}
}

// ListCrags implements harvest.Scraper.
func (s *Scraper) ListCrags(ctx context.Context, scope harvest.Scope) iter.Seq2[harvest.Crag, error] {
	return func(yield func(harvest.Crag, error) bool) {
		for raw, err := range s.lister.Items(ctx, payload.Join(s.baseURL, "crags.json"), payload.ScopeQuery(scope), "crags") {
			if err != nil {
				yield(harvest.Crag{}, err)
				return
			}
			c, perr := s.parseCrag(raw, scope)
			if perr == nil && s.enrich && c.SourceURL != "" {
				if err := s.enrichFromPage(ctx, &c); err != nil {
					if ctx.Err() != nil {
						yield(harvest.Crag{}, fmt.Errorf("enrich %s: %w", c.SourceID, err))
						return
					}
					s.logger.Warn("crag page enrichment failed",
						zap.String("crag_id", c.SourceID),
						zap.String("url", c.SourceURL),
						zap.Error(err),
					)
				}
			}
			if !yield(c, perr) {
				return
			}
		}
	}
}

func (s *Scraper) parseArea(raw json.RawMessage, scope harvest.Scope) (harvest.Region, error) {
	var a area
	if err := json.Unmarshal(raw, &a); err != nil {
		return harvest.Region{}, &harvest.ParseError{Source: Name, Err: err}
	}
	if a.ID == "" {
		return harvest.Region{}, &harvest.ParseError{Source: Name, Item: a.Name, Err: errors.New("missing id")}
	}
	if a.BBox != nil && !a.BBox.Valid() {
		return harvest.Region{}, &harvest.ParseError{Source: Name, Item: string(a.ID), Err: errors.New("invalid bbox")}
	}
	regionType := harvest.RegionArea
	if a.ParentID != "" {
		regionType = harvest.RegionSubarea
	}
	if strings.EqualFold(a.Type, harvest.RegionCountry) {
		regionType = harvest.RegionCountry
	}
	sourceURL, err := payload.Resolve(s.baseURL, a.URL)
	if err != nil {
		return harvest.Region{}, &harvest.ParseError{Source: Name, Item: string(a.ID), Err: err}
	}
	return harvest.Region{
		ID:          string(a.ID),
		Name:        strings.TrimSpace(a.Name),
		ParentID:    string(a.ParentID),
		Type:        regionType,
		CountryCode: payload.CountryCode(a.Country, scope.Country),
		BBox:        a.BBox,
		SourceName:  Name,
		SourceURL:   sourceURL,
		FetchedAt:   s.now(),
	}, nil
}

func (s *Scraper) parseCrag(raw json.RawMessage, scope harvest.Scope) (harvest.Crag, error) {
	var c crag
	if err := json.Unmarshal(raw, &c); err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Err: err}
	}
	label := payload.ItemLabel(c.ID, c.Name)
	if c.ID == "" {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: errors.New("missing id")}
	}
	lat, lon, err := payload.Coordinates(
		payload.FirstFloat(c.Lat, c.Latitude),
		payload.FirstFloat(c.Lon, c.Longitude),
	)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: err}
	}
	quality, err := payload.Quality(c.Rating)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: fmt.Errorf("rating: %w", err)}
	}
	routes, err := payload.IntPtr(c.RouteCount)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: fmt.Errorf("route_count: %w", err)}
	}
	approach, err := payload.IntPtr(c.Approach)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: fmt.Errorf("approach_minutes: %w", err)}
	}
	sourceURL, err := payload.Resolve(s.baseURL, c.URL)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: err}
	}
	var subregion []string
	if m := strings.TrimSpace(c.Municipality); m != "" {
		subregion = []string{m}
	}
	return harvest.Crag{
		SourceID:        string(c.ID),
		SourceName:      Name,
		Name:            strings.TrimSpace(c.Name),
		CountryCode:     payload.CountryCode(c.Country, scope.Country),
		Region:          strings.TrimSpace(c.Region),
		Subregion:       subregion,
		RegionID:        string(c.AreaID),
		Lat:             lat,
		Lon:             lon,
		RockType:        strings.ToLower(strings.TrimSpace(c.RockType)),
		ClimbingStyles:  payload.Styles(c.Styles),
		NumRoutes:       routes,
		GradeMin:        strings.TrimSpace(c.GradeMin),
		GradeMax:        strings.TrimSpace(c.GradeMax),
		QualityScore:    quality,
		AccessStatus:    payload.AccessStatus(c.Access),
		AccessNotes:     strings.TrimSpace(c.AccessNotes),
		ApproachMinutes: approach,
		SourceURL:       sourceURL,
		FetchedAt:       s.now(),
	}, nil
}

func (s *Scraper) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}
