// Package filter flags reconciled crags against user acceptance rules. Records are
// never dropped; each output copy carries EffectiveFilterPassed.
package filter

import (
	"strings"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// Style tags treated as indoor climbing.
var indoorStyles = map[string]struct{}{
	"indoor":         {},
	"gym":            {},
	"climbing_gym":   {},
	"bouldering_gym": {},
}

// Rules is a conjunction of acceptance criteria. Zero values disable a rule,
// except IncludeRestricted which callers normally default to true.
type Rules struct {
	MinRoutes         *int          `mapstructure:"min_routes"`
	MinQualityScore   *float64      `mapstructure:"min_quality_score"`
	MinStarRating     *float64      `mapstructure:"min_star_rating"`
	ExcludeIndoor     bool          `mapstructure:"exclude_indoor"`
	ExcludeClosed     bool          `mapstructure:"exclude_closed"`
	IncludeRestricted bool          `mapstructure:"include_restricted"`
	ExcludeViaFerrata bool          `mapstructure:"exclude_via_ferrata"`
	ExcludeIce        bool          `mapstructure:"exclude_ice"`
	RequireName       bool          `mapstructure:"require_name"`
	RequireLatLon     bool          `mapstructure:"require_latlon"`
	BBox              *harvest.BBox `mapstructure:"bbox"`
}

// DefaultRules accepts everything.
func DefaultRules() Rules {
	return Rules{IncludeRestricted: true}
}

// Evaluate reports whether the crag satisfies every enabled rule.
func Evaluate(c harvest.Crag, rules Rules) bool {
	if rules.MinRoutes != nil && (c.NumRoutes == nil || *c.NumRoutes < *rules.MinRoutes) {
		return false
	}
	if rules.MinQualityScore != nil && (c.QualityScore == nil || *c.QualityScore < *rules.MinQualityScore) {
		return false
	}
	if rules.MinStarRating != nil && (c.QualityScore == nil || *c.QualityScore < *rules.MinStarRating) {
		return false
	}
	access := strings.ToLower(strings.TrimSpace(c.AccessStatus))
	if rules.ExcludeClosed && access == harvest.AccessClosed {
		return false
	}
	if !rules.IncludeRestricted && access == harvest.AccessRestricted {
		return false
	}
	if rules.RequireName && strings.TrimSpace(c.Name) == "" {
		return false
	}
	if rules.RequireLatLon && !c.HasCoordinates() {
		return false
	}
	if rules.BBox != nil && (!c.HasCoordinates() || !rules.BBox.Contains(*c.Lat, *c.Lon)) {
		return false
	}
	for _, style := range c.ClimbingStyles {
		tag := normalizeStyle(style)
		if _, indoor := indoorStyles[tag]; indoor && rules.ExcludeIndoor {
			return false
		}
		if rules.ExcludeViaFerrata && tag == "via_ferrata" {
			return false
		}
		if rules.ExcludeIce && (tag == "ice" || tag == "mixed_ice") {
			return false
		}
	}
	return true
}

// Apply returns copies of the crags with EffectiveFilterPassed set. Input order is kept.
func Apply(crags []harvest.Crag, rules Rules) []harvest.Crag {
	out := make([]harvest.Crag, len(crags))
	for i, c := range crags {
		cp := c.Clone()
		cp.EffectiveFilterPassed = Evaluate(c, rules)
		out[i] = cp
	}
	return out
}

// CountPassed counts records flagged as passing.
func CountPassed(crags []harvest.Crag) int {
	n := 0
	for _, c := range crags {
		if c.EffectiveFilterPassed {
			n++
		}
	}
	return n
}

func normalizeStyle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
