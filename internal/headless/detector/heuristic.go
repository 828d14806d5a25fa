// Package detector decides whether a fetched page needs JS rendering.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heuristic flags JS-shell pages using simple HTML signals: a tiny body, or
// required selectors missing from the static markup.
type Heuristic struct {
	minHTMLBytes int
	selectors    []string
}

// New constructs a Heuristic. selectors are CSS selectors that must all be
// present in usable static HTML.
func New(minHTMLBytes int, selectors []string) *Heuristic {
	clean := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel != "" {
			clean = append(clean, sel)
		}
	}
	return &Heuristic{minHTMLBytes: minHTMLBytes, selectors: clean}
}

// NeedsJS reports whether the static HTML looks like an unrendered shell.
func (d *Heuristic) NeedsJS(body []byte) bool {
	if d == nil {
		return false
	}
	if d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes {
		return true
	}
	return d.missingSelectors(body)
}

func (d *Heuristic) missingSelectors(body []byte) bool {
	if len(d.selectors) == 0 || len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
