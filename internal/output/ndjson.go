package output

import (
	"bufio"
	"encoding/json"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// WriteNDJSON writes one JSON object per crag, one per line, in input order.
func WriteNDJSON(path string, crags []harvest.Crag) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, c := range crags {
			if err := enc.Encode(normalize(c)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteRegions writes one JSON object per region, one per line.
func WriteRegions(path string, regions []harvest.Region) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, r := range regions {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// normalize replaces nil slices so list fields always serialize as arrays.
func normalize(c harvest.Crag) harvest.Crag {
	if c.Subregion == nil {
		c.Subregion = []string{}
	}
	if c.ClimbingStyles == nil {
		c.ClimbingStyles = []string{}
	}
	if c.MergedFrom == nil {
		c.MergedFrom = []string{}
	}
	return c
}
