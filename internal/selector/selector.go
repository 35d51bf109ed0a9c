// Package selector narrows a document to the pages worth sending to the
// model: pages that talk about a theme and carry something measurable.
package selector

import (
	"regexp"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/esg-extract/internal/catalogue"
	"github.com/sells-group/esg-extract/internal/model"
)

var yearRE = regexp.MustCompile(`(?i)(?:\bfy\s*'?|\b)((?:19|20)\d{2})\b`)

// Options tunes selection. Zero values keep the catalogue settings.
type Options struct {
	// MinKeywordHits overrides every theme's min_keyword_hits when > 0.
	MinKeywordHits int
	// YearHorizon is how far past the current year a token still counts
	// as a year. Default 30.
	YearHorizon int
	// Now is used for the year window. Default time.Now.
	Now func() time.Time
}

// Selector is safe for concurrent use.
type Selector struct {
	themes  []*catalogue.Theme
	minHits int
	minYear int
	maxYear int
}

// New builds a Selector over the catalogue themes.
func New(cat *catalogue.Catalogue, opts Options) *Selector {
	if opts.YearHorizon <= 0 {
		opts.YearHorizon = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Selector{
		themes:  cat.Themes(),
		minHits: opts.MinKeywordHits,
		minYear: 1990,
		maxYear: opts.Now().Year() + opts.YearHorizon,
	}
}

// Select returns the relevant pages in document order with their original
// page numbers and matched themes. An empty result means no relevant pages.
func (s *Selector) Select(doc *model.Document) []model.SelectedPage {
	var out []model.SelectedPage
	for _, p := range doc.Pages {
		if themes := s.Match(p.Text); len(themes) > 0 {
			out = append(out, model.SelectedPage{Page: p, Themes: themes})
		}
	}
	return out
}

// Match returns the themes a page qualifies for, in catalogue order.
func (s *Selector) Match(text string) []string {
	folded := norm.NFKC.String(text)
	years := s.DistinctYears(folded)

	var matched []string
	for _, th := range s.themes {
		min := th.MinKeywordHits
		if s.minHits > 0 {
			min = s.minHits
		}
		if th.KeywordHits(folded) < min {
			continue
		}

		measurable := years >= 2
		if !th.RequireMultipleYears && th.HasUnit(folded) {
			measurable = true
		}
		// Commitment text rarely carries a unit; a goal phrase with a
		// year is enough.
		goal := years >= 1 && th.HasGoal(folded)

		if measurable || goal {
			matched = append(matched, th.Name)
		}
	}
	return matched
}

// DistinctYears counts distinct year tokens inside the accepted window.
func (s *Selector) DistinctYears(text string) int {
	seen := make(map[int]bool)
	for _, m := range yearRE.FindAllStringSubmatch(text, -1) {
		y, err := strconv.Atoi(m[1])
		if err != nil || y < s.minYear || y > s.maxYear {
			continue
		}
		seen[y] = true
	}
	return len(seen)
}
