// Package extract turns fetched listing markup into ScrapedRecords. One
// extractor exists per supported source site; site selection is a pure
// function of the URL host and happens before any I/O.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/flatwatch/flatwatch/models"
)

// Extractor converts parsed markup into a ScrapedRecord. Implementations
// are pure: no network I/O, no persistence. The boolean result is false
// when the markup is not recognizable as a listing page for the site.
type Extractor interface {
	Site() models.Site
	Extract(doc *goquery.Document, sourceURL string, observedAt time.Time) (models.ScrapedRecord, bool)
}

// ErrUnsupportedURL is wrapped into errors returned by ForURL for hosts
// outside the known source sites.
var ErrUnsupportedURL = fmt.Errorf("unsupported listing URL")

// ForURL resolves the extractor responsible for the given listing URL.
// The URL must use http or https and its host must belong to one of the
// known source-site domains.
func ForURL(rawURL string) (Extractor, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q in %q", ErrUnsupportedURL, parsed.Scheme, rawURL)
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case hostMatches(host, string(models.SiteRieltor)):
		return RieltorExtractor{}, nil
	case hostMatches(host, string(models.SiteDomRia)):
		return DomRiaExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: host %q in %q", ErrUnsupportedURL, host, rawURL)
	}
}

// hostMatches accepts the domain itself and its subdomains, never a mere
// suffix overlap ("notrieltor.ua" must not match "rieltor.ua").
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// ParseDocument parses raw page bytes into a goquery document.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return doc, nil
}

var (
	intRe   = regexp.MustCompile(`\d+`)
	floorRe = regexp.MustCompile(`поверх\s+(\d+)`)
	areaRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
)

// firstInt extracts the first integer from text. The pointer keeps an
// explicit "0" distinguishable from "absent".
func firstInt(text string) *int {
	match := intRe.FindString(text)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloor(text string) *int {
	match := floorRe.FindStringSubmatch(text)
	if len(match) < 2 {
		return nil
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &n
}

// parseArea extracts the leading (total) area from strings like
// "55 / 25 / 15 м²".
func parseArea(text string) *float64 {
	match := areaRe.FindStringSubmatch(text)
	if len(match) < 2 {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func cleanText(sel *goquery.Selection) string {
	return collapseSpace(sel.First().Text())
}

// collapseSpace trims and collapses internal whitespace runs.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
