// Package canon computes the canonical identity key used to recognize the same
// physical crag across independently fetched sources.
package canon

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

// DefaultPrecision rounds coordinates to 3 decimals, roughly 100 m.
const DefaultPrecision = 3

// MaxPrecision bounds the configurable precision; beyond this float noise leaks into keys.
const MaxPrecision = 7

// MissingCoordinate fills both coordinate slots when a record has no position.
const MissingCoordinate = "~"

const keySeparator = "|"

// FoldTable maps letters that do not decompose under NFD onto ASCII.
var FoldTable = strings.NewReplacer(
	"ø", "o", "Ø", "o",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"ß", "ss",
	"ł", "l", "Ł", "l",
	"đ", "d", "Đ", "d",
	"þ", "th", "Þ", "th",
	"ı", "i",
)

// Options tunes key construction.
type Options struct {
	Precision  int      `mapstructure:"precision"`
	StripWords []string `mapstructure:"strip_words"`
}

// Canonicalizer builds canonical keys. It is immutable and safe for concurrent use.
type Canonicalizer struct {
	precision int
	strip     map[string]struct{}
}

// New builds a Canonicalizer. Out-of-range precision falls back to DefaultPrecision.
func New(opts Options) *Canonicalizer {
	precision := opts.Precision
	if precision <= 0 || precision > MaxPrecision {
		precision = DefaultPrecision
	}
	c := &Canonicalizer{
		precision: precision,
		strip:     make(map[string]struct{}, len(opts.StripWords)),
	}
	for _, w := range opts.StripWords {
		if n := foldName(w); n != "" {
			c.strip[n] = struct{}{}
		}
	}
	return c
}

// Key returns the canonical key for the record.
func (c *Canonicalizer) Key(cr harvest.Crag) string {
	lat, lon := MissingCoordinate, MissingCoordinate
	if cr.HasCoordinates() {
		lat = c.formatCoordinate(*cr.Lat)
		lon = c.formatCoordinate(*cr.Lon)
	}
	return strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(cr.CountryCode)),
		c.NormalizeName(cr.Name),
		lat,
		lon,
	}, keySeparator)
}

// Apply returns copies of the records with CanonicalKey recomputed.
func (c *Canonicalizer) Apply(crags []harvest.Crag) []harvest.Crag {
	out := make([]harvest.Crag, len(crags))
	for i, cr := range crags {
		cp := cr.Clone()
		cp.CanonicalKey = c.Key(cp)
		out[i] = cp
	}
	return out
}

// NormalizeName lower-cases, folds diacritics, strips punctuation and collapses
// whitespace, then drops configured stop words.
func (c *Canonicalizer) NormalizeName(name string) string {
	folded := foldName(name)
	if len(c.strip) == 0 || folded == "" {
		return folded
	}
	words := strings.Fields(folded)
	kept := words[:0]
	for _, w := range words {
		if _, drop := c.strip[w]; !drop {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		// A name made only of stop words keeps its words.
		return folded
	}
	return strings.Join(kept, " ")
}

// Round rounds v half away from zero to the configured precision.
func (c *Canonicalizer) Round(v float64) float64 {
	scale := math.Pow(10, float64(c.precision))
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0
	}
	return r
}

func (c *Canonicalizer) formatCoordinate(v float64) string {
	return strconv.FormatFloat(c.Round(v), 'f', c.precision, 64)
}

func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}
	decomposed = FoldTable.Replace(decomposed)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range strings.ToLower(decomposed) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// Apostrophes join: "Devil's" and "Devils" collide on purpose.
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
