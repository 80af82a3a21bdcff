// Package payload holds decoding helpers shared by the JSON-backed scrapers:
// lenient scalar types, pagination and scope-to-query mapping.
package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// ID accepts a JSON string or number.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Float accepts a JSON number or a numeric string.
type Float float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Int accepts a JSON number or numeric string holding an integral value.
type Int int

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(data []byte) error {
	v, err := parseNumber(data)
	if err != nil {
		return err
	}
	if v != math.Trunc(v) {
		return fmt.Errorf("decode int: %v is not integral", v)
	}
	*i = Int(v)
	return nil
}

func parseNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, fmt.Errorf("decode number: %w", err)
		}
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, fmt.Errorf("decode number: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("decode number: %q is not finite", data)
	}
	return v, nil
}

// MaxQuality is the top of the shared quality scale.
const MaxQuality = 5

// Quality converts an optional quality score, rejecting values off the 0..5 scale.
func Quality(f *Float) (*float64, error) {
	if f == nil {
		return nil, nil
	}
	v := float64(*f)
	if v < 0 || v > MaxQuality || math.IsNaN(v) {
		return nil, fmt.Errorf("quality %v outside 0..%d", v, MaxQuality)
	}
	return &v, nil
}

// IntPtr converts an optional Int, rejecting negatives.
func IntPtr(i *Int) (*int, error) {
	if i == nil {
		return nil, nil
	}
	if *i < 0 {
		return nil, fmt.Errorf("negative count %d", int(*i))
	}
	v := int(*i)
	return &v, nil
}

// FirstFloat returns the first non-nil value.
func FirstFloat(values ...*Float) *Float {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// Coordinates validates a lat/lon pair. Either both are set or neither is returned.
func Coordinates(lat, lon *Float) (*float64, *float64, error) {
	if lat == nil || lon == nil {
		return nil, nil, nil
	}
	la, lo := float64(*lat), float64(*lon)
	if la < -90 || la > 90 || math.IsNaN(la) {
		return nil, nil, fmt.Errorf("latitude %v out of range", la)
	}
	if lo < -180 || lo > 180 || math.IsNaN(lo) {
		return nil, nil, fmt.Errorf("longitude %v out of range", lo)
	}
	return &la, &lo, nil
}

// CountryCode upper-cases a two-letter code, falling back to the scope country.
func CountryCode(raw, fallback string) string {
	for _, candidate := range []string{raw, fallback} {
		c := strings.ToUpper(strings.TrimSpace(candidate))
		if len(c) == 2 {
			return c
		}
	}
	return ""
}

// Styles lower-cases style tags, joins words with underscores and dedupes.
func Styles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' }), "_")
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

// AccessStatus maps upstream access labels to open, restricted or closed.
func AccessStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "ok", "allowed":
		return harvest.AccessOpen
	case "restricted", "seasonal", "partial", "limited":
		return harvest.AccessRestricted
	case "closed", "banned", "forbidden":
		return harvest.AccessClosed
	}
	return ""
}

// ScopeQuery maps a scope to the query parameters both JSON sources understand.
func ScopeQuery(scope harvest.Scope) url.Values {
	q := url.Values{}
	if scope.Country != "" {
		q.Set("country", scope.Country)
	}
	if len(scope.AreaPath) > 0 {
		q.Set("path", strings.Join(scope.AreaPath, "/"))
	}
	if b := scope.BBox; b != nil {
		q.Set("bbox", strings.Join([]string{
			strconv.FormatFloat(b.West, 'f', -1, 64),
			strconv.FormatFloat(b.South, 'f', -1, 64),
			strconv.FormatFloat(b.East, 'f', -1, 64),
			strconv.FormatFloat(b.North, 'f', -1, 64),
		}, ","))
	}
	return q
}

// Page is one decoded listing response.
type Page struct {
	Items []json.RawMessage
	Next  string
}

// DecodePage extracts the item array stored under key and the optional next link.
func DecodePage(body []byte, key string) (Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	var page Page
	if raw, ok := envelope[key]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return Page{}, fmt.Errorf("decode %s array: %w", key, err)
		}
	}
	if raw, ok := envelope["next"]; ok {
		// A non-string next (null, false) ends pagination.
		_ = json.Unmarshal(raw, &page.Next)
	}
	return page, nil
}

// Lister pages through a JSON listing endpoint.
type Lister struct {
	Fetcher  harvest.Fetcher
	Source   string
	MaxPages int
}

// Items yields raw items from first and every following page. A fetch or page
// decode failure is yielded once and ends the sequence.
func (l Lister) Items(ctx context.Context, first string, query url.Values, key string) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		target, q := first, query
		seen := map[string]struct{}{}
		for page := 0; target != "" && (l.MaxPages <= 0 || page < l.MaxPages); page++ {
			if _, dup := seen[target+"?"+q.Encode()]; dup {
				return
			}
			seen[target+"?"+q.Encode()] = struct{}{}

			resp, err := l.Fetcher.Fetch(ctx, harvest.FetchRequest{
				Source:  l.Source,
				URL:     target,
				Query:   q,
				Headers: http.Header{"Accept": {"application/json"}},
			})
			if err != nil {
				yield(nil, err)
				return
			}
			decoded, err := DecodePage(resp.Body, key)
			if err != nil {
				yield(nil, fmt.Errorf("%s %s: %w", l.Source, target, err))
				return
			}
			for _, item := range decoded.Items {
				if !yield(item, nil) {
					return
				}
			}
			next, err := Resolve(resp.URL, decoded.Next)
			if err != nil {
				yield(nil, fmt.Errorf("%s next link: %w", l.Source, err))
				return
			}
			// Next links carry their own query.
			target, q = next, nil
		}
	}
}

// Resolve resolves ref against base. An empty ref resolves to "".
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}

// Join appends path to a base URL.
func Join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// ItemLabel returns a short label for error messages.
func ItemLabel(id ID, name string) string {
	switch {
	case id != "":
		return string(id)
	case name != "":
		return name
	}
	return "<unidentified>"
}
