package harvest

import (
	"net/http"
	"net/url"
	"time"
)

// Access status values recognized by the filter engine.
const (
	AccessOpen       = "open"
	AccessRestricted = "restricted"
	AccessClosed     = "closed"
)

// Region type tags.
const (
	RegionCountry = "country"
	RegionArea    = "area"
	RegionSubarea = "subarea"
)

// BBox is an axis-aligned bounding box in WGS84 degrees.
type BBox struct {
	West  float64 `json:"west" mapstructure:"west"`
	South float64 `json:"south" mapstructure:"south"`
	East  float64 `json:"east" mapstructure:"east"`
	North float64 `json:"north" mapstructure:"north"`
}

// Contains reports whether the point lies inside the box. Boxes whose west edge
// is greater than the east edge wrap the antimeridian.
func (b BBox) Contains(lat, lon float64) bool {
	if lat < b.South || lat > b.North {
		return false
	}
	if b.West <= b.East {
		return lon >= b.West && lon <= b.East
	}
	return lon >= b.West || lon <= b.East
}

// Valid reports whether the box has sane latitude/longitude bounds.
func (b BBox) Valid() bool {
	return b.South <= b.North &&
		b.South >= -90 && b.North <= 90 &&
		b.West >= -180 && b.West <= 180 &&
		b.East >= -180 && b.East <= 180
}

// Crag is a single climbing location, either as emitted by one scraper or after
// reconciliation across sources.
type Crag struct {
	SourceID    string   `json:"source_id"`
	SourceName  string   `json:"source_name"`
	Name        string   `json:"name"`
	CountryCode string   `json:"country_code"`
	Region      string   `json:"region"`
	Subregion   []string `json:"subregion"`
	RegionID    string   `json:"region_id,omitempty"`

	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	BBox *BBox    `json:"bbox,omitempty"`

	RockType        string   `json:"rock_type"`
	ClimbingStyles  []string `json:"climbing_styles"`
	NumRoutes       *int     `json:"num_routes"`
	GradeMin        string   `json:"grade_min"`
	GradeMax        string   `json:"grade_max"`
	QualityScore    *float64 `json:"quality_score"`
	AccessStatus    string   `json:"access_status"`
	AccessNotes     string   `json:"access_notes"`
	ApproachMinutes *int     `json:"approach_minutes,omitempty"`
	ElevationM      *int     `json:"elevation_m,omitempty"`
	SourceURL       string   `json:"source_url,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`

	CanonicalKey          string   `json:"canonical_key"`
	MergedFrom            []string `json:"merged_from"`
	EffectiveFilterPassed bool     `json:"effective_filter_passed"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (c Crag) HasCoordinates() bool {
	return c.Lat != nil && c.Lon != nil
}

// ProvenanceID is the qualified identifier used in merged_from.
func (c Crag) ProvenanceID() string {
	return c.SourceName + ":" + c.SourceID
}

// Provenance returns the contributor ids for the record: its merged_from when set,
// otherwise its own qualified id.
func (c Crag) Provenance() []string {
	if len(c.MergedFrom) > 0 {
		return c.MergedFrom
	}
	return []string{c.ProvenanceID()}
}

// Clone returns a deep copy so later stages never alias scraper-owned memory.
func (c Crag) Clone() Crag {
	out := c
	out.Subregion = cloneStrings(c.Subregion)
	out.ClimbingStyles = cloneStrings(c.ClimbingStyles)
	out.MergedFrom = cloneStrings(c.MergedFrom)
	out.Lat = cloneFloat(c.Lat)
	out.Lon = cloneFloat(c.Lon)
	out.QualityScore = cloneFloat(c.QualityScore)
	out.NumRoutes = cloneInt(c.NumRoutes)
	out.ApproachMinutes = cloneInt(c.ApproachMinutes)
	out.ElevationM = cloneInt(c.ElevationM)
	if c.BBox != nil {
		b := *c.BBox
		out.BBox = &b
	}
	return out
}

// Region is a named geographic container. ParentID links regions into a tree.
type Region struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parent_id,omitempty"`
	Type        string    `json:"type"`
	CountryCode string    `json:"country_code"`
	BBox        *BBox     `json:"bbox,omitempty"`
	SourceName  string    `json:"source_name"`
	SourceURL   string    `json:"source_url,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Scope narrows what a scraper lists.
type Scope struct {
	Country  string   `mapstructure:"country"`
	AreaPath []string `mapstructure:"area_path"`
	BBox     *BBox    `mapstructure:"bbox"`
}

// FetchRequest captures everything needed to fetch one URL on behalf of a source.
type FetchRequest struct {
	Source  string
	URL     string
	Query   url.Values
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}
