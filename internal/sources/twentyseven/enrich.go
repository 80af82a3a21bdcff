package twentyseven

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/sources/payload"
)

// pageDetails is what a crag page adds on top of the JSON listing.
type pageDetails struct {
	ApproachMinutes *int
	Styles          []string
}

func (s *Scraper) enrichFromPage(ctx context.Context, c *harvest.Crag) error {
	resp, err := s.fetcher.Fetch(ctx, harvest.FetchRequest{
		Source:  Name,
		URL:     c.SourceURL,
		Headers: http.Header{"Accept": {"text/html"}},
	})
	if err != nil {
		return fmt.Errorf("fetch crag page: %w", err)
	}
	details, err := parseCragPage(resp.Body)
	if err != nil {
		return err
	}
	if c.ApproachMinutes == nil && details.ApproachMinutes != nil {
		c.ApproachMinutes = details.ApproachMinutes
	}
	if len(details.Styles) > 0 {
		c.ClimbingStyles = payload.Styles(append(c.ClimbingStyles, details.Styles...))
	}
	return nil
}

// parseCragPage reads the approach time and style badges from a crag page.
func parseCragPage(body []byte) (pageDetails, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageDetails{}, fmt.Errorf("parse crag page: %w", err)
	}
	var details pageDetails

	doc.Find("body *").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.Contains(ownText(sel), "Approach") {
			return true
		}
		details.ApproachMinutes = firstInt(sel.Text())
		return false
	})

	doc.Find(".badge.style").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			details.Styles = append(details.Styles, text)
		}
	})
	return details, nil
}

// ownText concatenates the direct text children of sel.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
		}
	})
	return b.String()
}

// firstInt returns the first run of digits in s.
func firstInt(s string) *int {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return nil
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.Atoi(s[start:end])
	if err != nil {
		return nil
	}
	return &v
}
