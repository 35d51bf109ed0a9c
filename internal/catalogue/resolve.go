package catalogue

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds s into an alias key: NFKC, case folded, punctuation
// and symbols turned into spaces, whitespace collapsed.
func NormalizeKey(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Match is the outcome of resolving one surface name.
type Match struct {
	IndicatorID string  `json:"indicator_id,omitempty"`
	Alias       string  `json:"alias,omitempty"`
	Score       float64 `json:"score"`
	Exact       bool    `json:"exact"`
	// RunnerUp is the best score among other indicators.
	RunnerUp float64 `json:"runner_up,omitempty"`
}

// Resolve maps a surface name to an indicator id.
func (c *Catalogue) Resolve(surface string) (string, bool) {
	m := c.Match(surface)
	return m.IndicatorID, m.IndicatorID != ""
}

// Match resolves surface exactly, then fuzzily. A fuzzy match is returned
// only when it scores at least the threshold and leads the best alias of
// any other indicator by at least the margin. A zero IndicatorID means
// unresolved; Score and Alias still describe the closest candidate.
func (c *Catalogue) Match(surface string) Match {
	key := NormalizeKey(surface)
	if key == "" {
		return Match{}
	}
	if id, ok := c.aliases[key]; ok {
		return Match{IndicatorID: id, Alias: key, Score: 1, Exact: true}
	}

	a := strings.Split(key, "")
	sm := difflib.NewMatcherWithJunk(a, nil, false, nil)

	best := make(map[string]float64)
	bestAlias := make(map[string]string)
	for _, k := range c.aliasKeys {
		id := c.aliases[k]
		sm.SetSeq2(strings.Split(k, ""))
		if sm.RealQuickRatio() < c.threshold-c.margin || sm.QuickRatio() < c.threshold-c.margin {
			continue
		}
		r := sm.Ratio()
		if r > best[id] {
			best[id] = r
			bestAlias[id] = k
		}
	}

	var top, second string
	for id, r := range best {
		switch {
		case top == "" || r > best[top] || (r == best[top] && id < top):
			second = top
			top = id
		case second == "" || r > best[second] || (r == best[second] && id < second):
			second = id
		}
	}
	if top == "" {
		return Match{}
	}

	m := Match{Alias: bestAlias[top], Score: best[top]}
	if second != "" {
		m.RunnerUp = best[second]
	}
	if m.Score >= c.threshold && m.Score-m.RunnerUp >= c.margin {
		m.IndicatorID = top
	}
	return m
}
