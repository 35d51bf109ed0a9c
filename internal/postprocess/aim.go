package postprocess

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
)

const pctRE = `(\d+(?:\.\d+)?)\s*(?:%|percent\b|per cent\b)`

// Phrases that describe a change against a baseline rather than a level.
var reductionREs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + pctRE + `\s*(?:reduction|decrease|improvement|drop|decline|lower|less|cut)\b`),
	regexp.MustCompile(`(?i)\b(?:reduc\w*|decreas\w*|cut|lower\w*|improv\w*)\b[^%]{0,80}?\bby\s+` + pctRE),
	regexp.MustCompile(`(?i)` + pctRE + `\s+(?:below|vs\.?|versus|compared\s+(?:to|with)|from|relative\s+to)\s+(?:the\s+|our\s+)?(?:(?:19|20)\d{2}\b|baseline|base\s+year|levels?\b)`),
}

var (
	baselineYearREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:vs\.?|versus|compared\s+(?:to|with)|from|below|since|relative\s+to)\s+(?:the\s+|our\s+|a\s+)?((?:19|20)\d{2})\b`),
		regexp.MustCompile(`(?i)\b((?:19|20)\d{2})\s+(?:baseline|base\s+year|levels?)\b`),
		regexp.MustCompile(`(?i)\b(?:baseline|base\s+year)(?:\s+of)?\s+((?:19|20)\d{2})\b`),
	}
	targetYearRE = regexp.MustCompile(`(?i)\bby\s+(?:the\s+end\s+of\s+)?((?:19|20)\d{2})\b`)
	pastTenseRE  = regexp.MustCompile(`(?i)\b(?:reduced|decreased|lowered|achieved|improved|delivered|cut\s+(?:our|its|their))\b`)
)

// reductionPhrase is a relative change found in text.
type reductionPhrase struct {
	percent      float64
	baselineYear *int
	targetYear   *int
	achieved     bool
}

// findReduction reports the first change-versus-baseline phrase in text.
func findReduction(text string) (reductionPhrase, bool) {
	for _, re := range reductionREs {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		p := reductionPhrase{percent: pct, achieved: pastTenseRE.MatchString(text)}
		p.baselineYear = firstYearMatch(baselineYearREs, text)
		p.targetYear = firstYearMatch([]*regexp.Regexp{targetYearRE}, text)
		return p, true
	}
	return reductionPhrase{}, false
}

func firstYearMatch(res []*regexp.Regexp, text string) *int {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil {
				return &y
			}
		}
	}
	return nil
}

// reductionCommitment checks a reduction-aim candidate for relative
// phrasing. The value itself is checked first; the source note counts only
// when the value is a percentage equal to the phrase's figure.
func reductionCommitment(c model.Candidate) (reductionPhrase, bool) {
	surface := strings.TrimSpace(c.RawValue + " " + c.RawUnit)
	if p, ok := findReduction(surface); ok {
		if sp, ok := findReduction(c.SourceNote); ok && sp.percent == p.percent {
			p.baselineYear, p.targetYear, p.achieved = sp.baselineYear, sp.targetYear, sp.achieved
		}
		return p, true
	}

	pct, ok := percentValue(c)
	if !ok {
		return reductionPhrase{}, false
	}
	p, ok := findReduction(c.SourceNote)
	if !ok || p.percent != pct {
		return reductionPhrase{}, false
	}
	return p, true
}

// percentValue returns the candidate's number when its unit is a percentage.
func percentValue(c model.Candidate) (float64, bool) {
	n, err := parseNumber(c.RawValue)
	if err != nil {
		return 0, false
	}
	unit := c.RawUnit
	if unit == "" {
		unit = n.tail
	}
	u, ok := lookupUnit(unit)
	if !ok || u.def.dim != DimPercent {
		return 0, false
	}
	f, err := n.value.Float64()
	return f, err == nil
}
