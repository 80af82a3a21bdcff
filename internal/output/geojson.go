package output

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a single GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry holds a Point ([lon, lat]) or Polygon ([[[lon, lat], ...]]).
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// WriteGeoJSON writes the crags as a single FeatureCollection.
func WriteGeoJSON(path string, crags []harvest.Crag) error {
	fc, err := BuildFeatureCollection(crags)
	if err != nil {
		return &harvest.WriteError{Path: path, Op: "encode", Err: err}
	}
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(fc)
	})
}

// BuildFeatureCollection converts crags to features. Geometry prefers the bounding
// box, then the point, and is null when neither is known.
func BuildFeatureCollection(crags []harvest.Crag) (FeatureCollection, error) {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(crags))}
	for _, c := range crags {
		props, err := properties(c)
		if err != nil {
			return FeatureCollection{}, fmt.Errorf("crag %s: %w", c.CanonicalKey, err)
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   geometryOf(c),
			Properties: props,
		})
	}
	return fc, nil
}

func geometryOf(c harvest.Crag) *Geometry {
	if b := c.BBox; b != nil {
		ring := [][]float64{
			{b.West, b.South},
			{b.East, b.South},
			{b.East, b.North},
			{b.West, b.North},
			{b.West, b.South},
		}
		return &Geometry{Type: "Polygon", Coordinates: [][][]float64{ring}}
	}
	if c.HasCoordinates() {
		return &Geometry{Type: "Point", Coordinates: []float64{*c.Lon, *c.Lat}}
	}
	return nil
}

func properties(c harvest.Crag) (map[string]any, error) {
	raw, err := json.Marshal(normalize(c))
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	delete(props, "lat")
	delete(props, "lon")
	delete(props, "bbox")
	return props, nil
}
