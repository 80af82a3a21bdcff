// Package region validates the region trees reported by each source.
package region

import (
	"sort"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// Dropped explains why a region was removed.
type Dropped struct {
	Region harvest.Region
	Reason string
}

// Drop reasons.
const (
	ReasonDuplicate = "duplicate id"
	ReasonCycle     = "parent chain loops"
	ReasonMissingID = "missing id"
)

// Validate removes regions whose parent chain loops and duplicate ids within a
// source. Parents are resolved only within the same source; an unknown parent is
// treated as a root. Kept regions are sorted by source then id.
func Validate(regions []harvest.Region) ([]harvest.Region, []Dropped) {
	type key struct{ source, id string }

	byKey := make(map[key]harvest.Region, len(regions))
	var dropped []Dropped
	for _, r := range regions {
		if r.ID == "" {
			dropped = append(dropped, Dropped{Region: r, Reason: ReasonMissingID})
			continue
		}
		k := key{r.SourceName, r.ID}
		if _, dup := byKey[k]; dup {
			dropped = append(dropped, Dropped{Region: r, Reason: ReasonDuplicate})
			continue
		}
		byKey[k] = r
	}

	// 0 unvisited, 1 on the current path, 2 resolved ok, 3 resolved looping.
	state := make(map[key]int, len(byKey))
	var resolve func(k key) bool
	resolve = func(k key) bool {
		switch state[k] {
		case 1, 3:
			return false
		case 2:
			return true
		}
		r, ok := byKey[k]
		if !ok {
			return true
		}
		state[k] = 1
		good := true
		if r.ParentID != "" {
			good = resolve(key{r.SourceName, r.ParentID})
		}
		if good {
			state[k] = 2
		} else {
			state[k] = 3
		}
		return good
	}

	kept := make([]harvest.Region, 0, len(byKey))
	for k, r := range byKey {
		if resolve(k) {
			kept = append(kept, r)
		} else {
			dropped = append(dropped, Dropped{Region: r, Reason: ReasonCycle})
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].SourceName != kept[j].SourceName {
			return kept[i].SourceName < kept[j].SourceName
		}
		return kept[i].ID < kept[j].ID
	})
	sort.SliceStable(dropped, func(i, j int) bool {
		a, b := dropped[i].Region, dropped[j].Region
		if a.SourceName != b.SourceName {
			return a.SourceName < b.SourceName
		}
		return a.ID < b.ID
	})
	return kept, dropped
}
