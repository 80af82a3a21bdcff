// Package thecrag scrapes the public JSON listing API of thecrag.com.
package thecrag

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
const Name = "thecrag"

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.thecrag.com/api"

// DefaultMaxPages bounds pagination per listing.
const DefaultMaxPages = 50

// Config wires a Scraper.
type Config struct {
	BaseURL  string
	MaxPages int
	Fetcher  harvest.Fetcher
	Clock    harvest.Clock
	Logger   *zap.Logger
}

// Scraper implements harvest.Scraper for thecrag.
type Scraper struct {
	baseURL string
	lister  payload.Lister
	clock   harvest.Clock
	logger  *zap.Logger
}

type point struct {
	Lat       *payload.Float `json:"lat"`
	Latitude  *payload.Float `json:"latitude"`
	Lon       *payload.Float `json:"lon"`
	Longitude *payload.Float `json:"longitude"`
}

type area struct {
	ID       payload.ID    `json:"id"`
	Name     string        `json:"name"`
	ParentID payload.ID    `json:"parentId"`
	Country  string        `json:"country"`
	Type     string        `json:"type"`
	URL      string        `json:"url"`
	BBox     *harvest.BBox `json:"bbox"`
}

type crag struct {
	ID          payload.ID     `json:"id"`
	Name        string         `json:"name"`
	AreaID      payload.ID     `json:"areaId"`
	Point       *point         `json:"point"`
	Country     string         `json:"country"`
	State       string         `json:"state"`
	Locality    string         `json:"locality"`
	Elevation   *payload.Int   `json:"elevation"`
	Styles      []string       `json:"styles"`
	RouteCount  *payload.Int   `json:"routeCount"`
	RockType    string         `json:"rockType"`
	GradeMin    string         `json:"gradeMin"`
	GradeMax    string         `json:"gradeMax"`
	Quality     *payload.Float `json:"quality"`
	Access      string         `json:"access"`
	AccessNotes string         `json:"accessNotes"`
	URL         string         `json:"url"`
}

// New builds a Scraper.
func New(cfg Config) (*Scraper, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("thecrag: fetcher is required")
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
		lister:  payload.Lister{Fetcher: cfg.Fetcher, Source: Name, MaxPages: maxPages},
		clock:   cfg.Clock,
		logger:  logger.Named(Name),
	}, nil
}

// Name implements harvest.Scraper.
func (s *Scraper) Name() string { return Name }

// ListRegions implements harvest.Scraper.
func (s *Scraper) ListRegions(ctx context.Context, scope harvest.Scope) iter.Seq2[harvest.Region, error] {
	return func(yield func(harvest.Region, error) bool) {
		for raw, err := range s.lister.Items(ctx, payload.Join(s.baseURL, "areas"), payload.ScopeQuery(scope), "areas") {
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
		for raw, err := range s.lister.Items(ctx, payload.Join(s.baseURL, "crags"), payload.ScopeQuery(scope), "crags") {
			if err != nil {
				yield(harvest.Crag{}, err)
				return
			}
			c, perr := s.parseCrag(raw, scope)
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
	switch {
	case strings.EqualFold(a.Type, harvest.RegionCountry):
		regionType = harvest.RegionCountry
	case strings.EqualFold(a.Type, harvest.RegionSubarea), strings.EqualFold(a.Type, "crag"):
		regionType = harvest.RegionSubarea
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
	var lat, lon *float64
	if c.Point != nil {
		var err error
		lat, lon, err = payload.Coordinates(
			payload.FirstFloat(c.Point.Lat, c.Point.Latitude),
			payload.FirstFloat(c.Point.Lon, c.Point.Longitude),
		)
		if err != nil {
			return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: err}
		}
	}
	quality, err := payload.Quality(c.Quality)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: fmt.Errorf("quality: %w", err)}
	}
	routes, err := payload.IntPtr(c.RouteCount)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: fmt.Errorf("routeCount: %w", err)}
	}
	sourceURL, err := payload.Resolve(s.baseURL, c.URL)
	if err != nil {
		return harvest.Crag{}, &harvest.ParseError{Source: Name, Item: label, Err: err}
	}
	var elevation *int
	if c.Elevation != nil {
		v := int(*c.Elevation)
		elevation = &v
	}
	var subregion []string
	if l := strings.TrimSpace(c.Locality); l != "" {
		subregion = []string{l}
	}
	return harvest.Crag{
		SourceID:       string(c.ID),
		SourceName:     Name,
		Name:           strings.TrimSpace(c.Name),
		CountryCode:    payload.CountryCode(c.Country, scope.Country),
		Region:         strings.TrimSpace(c.State),
		Subregion:      subregion,
		RegionID:       string(c.AreaID),
		Lat:            lat,
		Lon:            lon,
		RockType:       strings.ToLower(strings.TrimSpace(c.RockType)),
		ClimbingStyles: payload.Styles(c.Styles),
		NumRoutes:      routes,
		GradeMin:       strings.TrimSpace(c.GradeMin),
		GradeMax:       strings.TrimSpace(c.GradeMax),
		QualityScore:   quality,
		AccessStatus:   payload.AccessStatus(c.Access),
		AccessNotes:    strings.TrimSpace(c.AccessNotes),
		ElevationM:     elevation,
		SourceURL:      sourceURL,
		FetchedAt:      s.now(),
	}, nil
}

func (s *Scraper) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}
