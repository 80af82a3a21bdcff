// Package reconcile groups canonicalized crags by key and folds each group into
// a single record.
//
// Merge is a join: it is associative, commutative and idempotent, so the output
// does not depend on source completion order or on how groups are folded.
package reconcile

import (
	"cmp"
	"slices"
	"sort"
	"strings"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// Options configures tie-breaking between sources.
type Options struct {
	// SourcePriority lists source names best first. Unlisted sources rank after all listed ones.
	SourcePriority []string `mapstructure:"source_priority"`
}

// Reconciler merges duplicate records.
type Reconciler struct {
	priority map[string]int
}

// New builds a Reconciler for the given options.
func New(opts Options) *Reconciler {
	r := &Reconciler{priority: make(map[string]int, len(opts.SourcePriority))}
	for _, name := range opts.SourcePriority {
		if _, seen := r.priority[name]; !seen {
			r.priority[name] = len(r.priority)
		}
	}
	return r
}

// Reconcile groups records by canonical key and merges every group. The result is
// sorted by canonical key and has exactly one record per distinct key.
func (r *Reconciler) Reconcile(crags []harvest.Crag) []harvest.Crag {
	groups := make(map[string]harvest.Crag, len(crags))
	for _, c := range crags {
		if cur, ok := groups[c.CanonicalKey]; ok {
			groups[c.CanonicalKey] = r.Merge(cur, c)
			continue
		}
		groups[c.CanonicalKey] = r.Merge(c, c)
	}
	out := make([]harvest.Crag, 0, len(groups))
	for _, c := range groups {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalKey < out[j].CanonicalKey })
	return out
}

// Merge combines two records describing the same crag.
func (r *Reconciler) Merge(a, b harvest.Crag) harvest.Crag {
	var out harvest.Crag
	switch r.compareRank(a, b) {
	case 1:
		out = a.Clone()
	case -1:
		out = b.Clone()
	default:
		out = joinScalars(a, b)
	}

	out.ClimbingStyles = union(a.ClimbingStyles, b.ClimbingStyles)
	out.MergedFrom = union(a.Provenance(), b.Provenance())
	out.CanonicalKey = minNonEmpty(a.CanonicalKey, b.CanonicalKey)
	if b.FetchedAt.After(a.FetchedAt) {
		out.FetchedAt = b.FetchedAt
	} else {
		out.FetchedAt = a.FetchedAt
	}
	out.EffectiveFilterPassed = false
	return out
}

// compareRank returns 1 when a outranks b, -1 when b outranks a and 0 on a tie.
func (r *Reconciler) compareRank(a, b harvest.Crag) int {
	if c := compareQuality(a.QualityScore, b.QualityScore); c != 0 {
		return c
	}
	// Lower priority index is better.
	return cmp.Compare(r.priorityOf(b.SourceName), r.priorityOf(a.SourceName))
}

func (r *Reconciler) priorityOf(source string) int {
	if p, ok := r.priority[source]; ok {
		return p
	}
	return len(r.priority)
}

func compareQuality(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

// joinScalars resolves equal-rank records field by field.
func joinScalars(a, b harvest.Crag) harvest.Crag {
	out := a.Clone()

	if b.SourceName < a.SourceName || (b.SourceName == a.SourceName && b.SourceID < a.SourceID) {
		out.SourceName, out.SourceID = b.SourceName, b.SourceID
	}

	out.Name = minNonEmpty(a.Name, b.Name)
	out.CountryCode = minNonEmpty(a.CountryCode, b.CountryCode)
	out.Region = minNonEmpty(a.Region, b.Region)
	out.RegionID = minNonEmpty(a.RegionID, b.RegionID)
	out.RockType = minNonEmpty(a.RockType, b.RockType)
	out.GradeMin = minNonEmpty(a.GradeMin, b.GradeMin)
	out.GradeMax = minNonEmpty(a.GradeMax, b.GradeMax)
	out.AccessStatus = minNonEmpty(a.AccessStatus, b.AccessStatus)
	out.AccessNotes = minNonEmpty(a.AccessNotes, b.AccessNotes)
	out.SourceURL = minNonEmpty(a.SourceURL, b.SourceURL)
	out.Subregion = cloneSlice(minPath(a.Subregion, b.Subregion))

	out.NumRoutes = maxInt(a.NumRoutes, b.NumRoutes)
	out.ApproachMinutes = maxInt(a.ApproachMinutes, b.ApproachMinutes)
	out.ElevationM = maxInt(a.ElevationM, b.ElevationM)
	out.QualityScore = maxFloat(a.QualityScore, b.QualityScore)

	geo := b
	if compareGeometry(a, b) <= 0 {
		geo = a
	}
	g := geo.Clone()
	out.Lat, out.Lon, out.BBox = g.Lat, g.Lon, g.BBox
	return out
}

func minNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return min(a, b)
}

func minPath(a, b []string) []string {
	switch {
	case len(a) == 0:
		return b
	case len(b) == 0:
		return a
	}
	if slices.Compare(b, a) < 0 {
		return b
	}
	return a
}

func maxInt(a, b *int) *int {
	switch {
	case a == nil:
		return cloneInt(b)
	case b == nil:
		return cloneInt(a)
	}
	v := max(*a, *b)
	return &v
}

func maxFloat(a, b *float64) *float64 {
	switch {
	case a == nil:
		return cloneFloat(b)
	case b == nil:
		return cloneFloat(a)
	}
	v := max(*a, *b)
	return &v
}

// compareGeometry orders records so that the preferred geometry sorts first.
func compareGeometry(a, b harvest.Crag) int {
	if c := compareFirstTrue(a.HasCoordinates(), b.HasCoordinates()); c != 0 {
		return c
	}
	if a.HasCoordinates() {
		if c := cmp.Compare(*a.Lat, *b.Lat); c != 0 {
			return c
		}
		if c := cmp.Compare(*a.Lon, *b.Lon); c != 0 {
			return c
		}
	}
	if c := compareFirstTrue(a.BBox != nil, b.BBox != nil); c != 0 {
		return c
	}
	if a.BBox == nil {
		return 0
	}
	return cmp.Or(
		cmp.Compare(a.BBox.West, b.BBox.West),
		cmp.Compare(a.BBox.South, b.BBox.South),
		cmp.Compare(a.BBox.East, b.BBox.East),
		cmp.Compare(a.BBox.North, b.BBox.North),
	)
}

func compareFirstTrue(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	}
	return 1
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	for _, s := range b {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	return slices.Clone(in)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}
