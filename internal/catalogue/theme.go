package catalogue

import (
	"regexp"

	"github.com/rotisserie/eris"
)

// DefaultGoalKeywords mark forward-looking text when a theme sets none.
var DefaultGoalKeywords = []string{
	`\b(?:2030|2040|2050)\b`,
	`\b(?:target|goal)s?\b`,
	`\b(?:baseline(?:\s*year)?|base\s*year)\b`,
	`\bnet[- ]zero\b`,
	`\bcommit(?:ted|ment)?s?\b`,
}

// DefaultUnitPattern matches any unit token the postprocessor knows about.
const DefaultUnitPattern = `%|\bper ?cent\b|\bpct\b|` +
	`\b(?:k|m|g|t)?wh\b|\b(?:g|m)j\b|\bbtu\b|` +
	`\b(?:k|m)?t\s*co2e?\b|\bco2e\b|\btonnes?\b|\btons?\b|\bkg\b|` +
	`\bm3\b|\bcubic met(?:er|re)s?\b|\bgallons?\b|\bmgal\b|\bliters?\b|\blitres?\b|\bmegalit(?:er|re)s?\b|\bkm3\b`

// Theme groups indicators and carries the page-selection patterns for them.
type Theme struct {
	Name                 string   `yaml:"name" validate:"required"`
	Keywords             []string `yaml:"keywords" validate:"required,min=1"`
	UnitPattern          string   `yaml:"unit_pattern"`
	MinKeywordHits       int      `yaml:"min_keyword_hits" validate:"gte=0"`
	RequireMultipleYears bool     `yaml:"require_multiple_years"`
	GoalKeywords         []string `yaml:"goal_keywords"`
	Task                 string   `yaml:"task"`

	keywordRE []*regexp.Regexp
	unitRE    *regexp.Regexp
	goalRE    []*regexp.Regexp
}

func (t *Theme) compile() error {
	if t.MinKeywordHits <= 0 {
		t.MinKeywordHits = 1
	}
	if len(t.GoalKeywords) == 0 {
		t.GoalKeywords = DefaultGoalKeywords
	}
	if t.UnitPattern == "" {
		t.UnitPattern = DefaultUnitPattern
	}

	var err error
	if t.keywordRE, err = compileAll(t.Keywords); err != nil {
		return eris.Wrapf(err, "catalogue: theme %s keywords", t.Name)
	}
	if t.goalRE, err = compileAll(t.GoalKeywords); err != nil {
		return eris.Wrapf(err, "catalogue: theme %s goal keywords", t.Name)
	}
	if t.unitRE, err = regexp.Compile("(?i)" + t.UnitPattern); err != nil {
		return eris.Wrapf(err, "catalogue: theme %s unit pattern", t.Name)
	}
	return nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// KeywordHits counts how many keyword patterns match text.
func (t *Theme) KeywordHits(text string) int {
	n := 0
	for _, re := range t.keywordRE {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// HasUnit reports whether text contains a unit token for this theme.
func (t *Theme) HasUnit(text string) bool {
	return t.unitRE.MatchString(text)
}

// HasGoal reports whether text contains forward-looking language.
func (t *Theme) HasGoal(text string) bool {
	for _, re := range t.goalRE {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
