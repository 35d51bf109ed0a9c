// Package postprocess turns extraction candidates into validated metric and
// commitment rows: numbers are parsed, units converted to the catalogue's
// canonical unit with exact decimal arithmetic, values range-checked and
// years resolved.
package postprocess

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/esg-extract/internal/catalogue"
	"github.com/sells-group/esg-extract/internal/model"
)

// Rejection and text reasons.
const (
	ReasonNotAvailable   = "not available"
	ReasonNoYear         = "no year"
	ReasonFormula        = "formula"
	ReasonNotNumeric     = "not numeric"
	ReasonBlockedUnit    = "blocked unit"
	ReasonUnitMismatch   = "unit mismatch"
	ReasonOutOfRange     = "out of range"
	ReasonAboveWarn      = "above warn_above"
	ReasonDuplicate      = "duplicate"
	ReasonEmptyGoal      = "commitment has no target value, target year or goal text"
	ReasonUnknownRule    = "indicator has no rule"
	unresolvedUnitFormat = "unresolved unit: %q"
)

// MinYear is the earliest year accepted for metrics and commitments.
const MinYear = 1990

var naTokens = map[string]bool{
	"": true, "n/a": true, "na": true, "n.a.": true, "n.a": true,
	"-": true, "—": true, "–": true, "--": true,
	"not available": true, "not reported": true, "not applicable": true,
	"none": true, "null": true, "nil": true,
}

var yearTokenRE = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})(?:[^0-9]|$)`)

// Env is the per-report context a candidate is normalized in.
type Env struct {
	// ReportYear is the report-year hint; zero means unknown.
	ReportYear int
	// PageCount bounds page references. Zero disables the check.
	PageCount int
	// CurrentYear caps metric years when ReportYear is unknown.
	CurrentYear int
	// YearHorizon is how far past CurrentYear a target year may lie.
	YearHorizon int
	// Pages holds page text by page number for year lookup. Optional.
	Pages map[int]string
}

// Normalize maps one candidate onto a metric, a commitment or a rejection
// under rule. It is a pure function of its inputs.
func Normalize(c model.Candidate, rule catalogue.Rule, env Env) model.Outcome {
	refs := filterPages(c.PageRefs, env.PageCount)
	if c.Kind == model.KindCommitment {
		return normalizeCommitment(c, rule, env, refs)
	}
	return normalizeMetric(c, rule, env, refs)
}

// metricValue is the value half of a metric row.
type metricValue struct {
	numeric *float64
	text    string
	reason  string
	warning bool
}

func normalizeMetric(c model.Candidate, rule catalogue.Rule, env Env, refs []int) model.Outcome {
	reject := func(reason string) model.Outcome {
		return &model.Rejection{SurfaceName: c.SurfaceName, IndicatorID: rule.IndicatorID, Reason: reason}
	}

	if naTokens[strings.ToLower(strings.TrimSpace(norm.NFKC.String(c.RawValue)))] {
		return reject(ReasonNotAvailable)
	}

	if rule.Aim == catalogue.AimReduction {
		if p, ok := reductionCommitment(c); ok {
			return reductionToCommitment(c, rule, env, refs, p)
		}
	}

	v := metricValueOf(c, rule)

	year, ok := resolveYear(c, env)
	if !ok {
		return reject(ReasonNoYear)
	}
	if year < MinYear {
		return reject(fmt.Sprintf("year %d before %d", year, MinYear))
	}

	limit := env.ReportYear
	if limit == 0 {
		limit = env.CurrentYear
	}
	if limit > 0 && year > limit {
		return futureToCommitment(c, rule, env, refs, v, year)
	}

	m := &model.NormalizedMetric{
		IndicatorID:   rule.IndicatorID,
		Theme:         rule.Theme,
		ReportYear:    env.ReportYear,
		IndicatorYear: year,
		PageRefs:      refs,
		SourceNote:    tidy(c.SourceNote),
		Warning:       v.warning,
		Reason:        v.reason,
	}
	if m.ReportYear == 0 {
		m.ReportYear = year
	}
	if v.numeric != nil {
		m.ValueNumeric = v.numeric
		m.Unit = rule.UnitCanonical
	} else {
		text := v.text
		m.ValueText = &text
	}
	return m
}

// metricValueOf converts the candidate value into canonical units, or
// explains why it stays text.
func metricValueOf(c model.Candidate, rule catalogue.Rule) metricValue {
	text := surfaceText(c)
	asText := func(reason string) metricValue {
		return metricValue{text: text, reason: reason}
	}

	if IsBlockedUnit(c.RawUnit) {
		return asText(ReasonBlockedUnit)
	}

	n, err := parseNumber(c.RawValue)
	switch {
	case eris.Is(err, errFormula):
		return asText(ReasonFormula)
	case err != nil:
		return asText(ReasonNotNumeric)
	}
	if c.RawUnit == "" && IsBlockedUnit(n.tail) {
		return asText(ReasonBlockedUnit)
	}

	unit := strings.TrimSpace(c.RawUnit)
	if unit == "" {
		unit = n.tail
	}
	spec := unitSpec{def: unitDef{factor: decimalOne()}, scale: decimalOne()}
	if unit != "" {
		var ok bool
		spec, ok = lookupUnit(unit)
		if !ok {
			return asText(fmt.Sprintf(unresolvedUnitFormat, unit))
		}
		if !compatible(spec.def.dim, rule.UnitCanonical) {
			return asText(ReasonUnitMismatch)
		}
		// "36 billion" with unit "billion gallons" is scaled once.
		if n.scaled {
			spec.scale = decimalOne()
		}
	}

	d, err := toCanonical(n.value, spec)
	if err != nil {
		return asText(ReasonNotNumeric)
	}
	if rule.ExpectedType == catalogue.TypeInt {
		if d, err = quantize(d, 0); err != nil {
			return asText(ReasonNotNumeric)
		}
	}
	f, err := d.Float64()
	if err != nil {
		return asText(ReasonNotNumeric)
	}

	if !inRange(f, rule) {
		return asText(ReasonOutOfRange)
	}
	v := metricValue{numeric: &f}
	if w := rule.Validation.WarnAbove; w != nil && f > *w {
		v.warning = true
		v.reason = ReasonAboveWarn
	}
	return v
}

func inRange(f float64, rule catalogue.Rule) bool {
	if rule.UnitCanonical == "%" && (f < 0 || f > 100) {
		return false
	}
	if mn := rule.Validation.Min; mn != nil && f < *mn {
		return false
	}
	if mx := rule.Validation.Max; mx != nil && f > *mx {
		return false
	}
	return true
}

// surfaceText is the raw value with its unit appended unless the value
// already carries it.
func surfaceText(c model.Candidate) string {
	v := strings.TrimSpace(c.RawValue)
	u := strings.TrimSpace(c.RawUnit)
	if u == "" || strings.Contains(v, u) {
		return v
	}
	return v + " " + u
}

// resolveYear picks the candidate year, then the first year token in the
// source note, then the year closest to the value on its pages, then the
// report-year hint.
func resolveYear(c model.Candidate, env Env) (int, bool) {
	if c.Year != nil {
		return *c.Year, true
	}
	if m := yearTokenRE.FindStringSubmatch(c.SourceNote); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y, true
	}
	if y, ok := yearNearValue(c, env); ok {
		return y, true
	}
	if env.ReportYear > 0 {
		return env.ReportYear, true
	}
	return 0, false
}

// futureToCommitment routes a metric dated after the report into a target.
// yearWindow is how many bytes either side of a value are searched for a
// year on the page.
const yearWindow = 120

// yearNearValue finds the value on its referenced pages and returns the
// nearest year token around it. Years after the report year are skipped;
// on a page they are usually targets.
func yearNearValue(c model.Candidate, env Env) (int, bool) {
	needle := strings.TrimSpace(c.RawValue)
	if needle == "" || len(env.Pages) == 0 {
		return 0, false
	}
	for _, ref := range c.PageRefs {
		text := env.Pages[ref]
		at := strings.Index(text, needle)
		if at < 0 {
			continue
		}
		lo := max(at-yearWindow, 0)
		hi := min(at+len(needle)+yearWindow, len(text))

		best, bestDist := 0, -1
		consider := func(segment string, offset int) {
			for _, loc := range yearTokenRE.FindAllStringSubmatchIndex(segment, -1) {
				y, _ := strconv.Atoi(segment[loc[2]:loc[3]])
				if env.ReportYear > 0 && y > env.ReportYear {
					continue
				}
				start := offset + loc[2]
				dist := at - start
				if start > at {
					dist = start - (at + len(needle))
				}
				if bestDist < 0 || dist < bestDist {
					best, bestDist = y, dist
				}
			}
		}
		// The value itself is excluded so "2000 employees" is not a year.
		consider(text[lo:at], lo)
		consider(text[at+len(needle):hi], at+len(needle))
		if bestDist >= 0 {
			return best, true
		}
	}
	return 0, false
}

func futureToCommitment(c model.Candidate, rule catalogue.Rule, env Env, refs []int, v metricValue, year int) model.Outcome {
	nc := &model.NormalizedCommitment{
		IndicatorID:   rule.IndicatorID,
		Theme:         rule.Theme,
		ReportYear:    env.ReportYear,
		StatementType: model.StatementTarget,
		GoalText:      tidy(c.SourceNote),
		PageRefs:      refs,
		SourceNote:    tidy(c.SourceNote),
	}
	if v.numeric != nil {
		nc.TargetValue = v.numeric
		nc.TargetUnit = rule.UnitCanonical
	} else if nc.GoalText == "" {
		nc.GoalText = tidy(v.text)
	}
	if nc.GoalText == "" {
		nc.GoalText = tidy(surfaceText(c))
	}
	if year <= env.CurrentYear+horizon(env) {
		nc.TargetYear = &year
	} else {
		nc.Reason = fmt.Sprintf("target year %d beyond horizon", year)
	}
	return finishCommitment(c, nc)
}

func reductionToCommitment(c model.Candidate, rule catalogue.Rule, env Env, refs []int, p reductionPhrase) model.Outcome {
	st := model.StatementTarget
	if p.achieved {
		st = model.StatementAchievement
	}
	pct := p.percent
	nc := &model.NormalizedCommitment{
		IndicatorID:   rule.IndicatorID,
		Theme:         rule.Theme,
		ReportYear:    env.ReportYear,
		StatementType: st,
		GoalText:      tidy(c.SourceNote),
		TargetValue:   &pct,
		TargetUnit:    "%",
		PageRefs:      refs,
		SourceNote:    tidy(c.SourceNote),
	}
	if nc.GoalText == "" {
		nc.GoalText = tidy(surfaceText(c))
	}
	var reasons []string
	if pct > 100 {
		nc.TargetValue = nil
		nc.TargetUnit = ""
		reasons = append(reasons, "target percent above 100")
	}
	nc.BaselineYear, nc.TargetYear, reasons = checkYears(p.baselineYear, p.targetYear, env, reasons)
	nc.Reason = strings.Join(reasons, "; ")
	return finishCommitment(c, nc)
}

func normalizeCommitment(c model.Candidate, rule catalogue.Rule, env Env, refs []int) model.Outcome {
	nc := &model.NormalizedCommitment{
		IndicatorID:  rule.IndicatorID,
		Theme:        rule.Theme,
		ReportYear:   env.ReportYear,
		GoalText:     tidy(c.GoalText),
		ProgressText: tidy(c.ProgressText),
		PageRefs:     refs,
		SourceNote:   tidy(c.SourceNote),
	}
	if nc.GoalText == "" {
		nc.GoalText = nc.SourceNote
	}

	var reasons []string
	if c.TargetValue != nil {
		nc.TargetValue, nc.TargetUnit, reasons = targetValue(*c.TargetValue, c.TargetUnit, rule, reasons)
	}
	nc.BaselineYear, nc.TargetYear, reasons = checkYears(c.BaselineYear, c.TargetYear, env, reasons)

	st, ok := model.ParseStatementType(strings.ToLower(strings.TrimSpace(c.StatementType)))
	if !ok {
		st = model.StatementPolicy
		if nc.TargetValue != nil || nc.TargetYear != nil {
			st = model.StatementTarget
		}
	}
	nc.StatementType = st
	nc.Reason = strings.Join(reasons, "; ")
	return finishCommitment(c, nc)
}

// targetValue converts a target into the canonical unit when the units are
// compatible; percentages and unknown units are kept as given.
func targetValue(v float64, unit string, rule catalogue.Rule, reasons []string) (*float64, string, []string) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return &v, "", reasons
	}
	spec, ok := lookupUnit(unit)
	if !ok {
		return &v, unit, reasons
	}
	if spec.def.dim == DimPercent {
		if v > 100 && rule.Aim != catalogue.AimIncrease {
			return nil, "", append(reasons, "target percent above 100")
		}
		if v < 0 {
			return nil, "", append(reasons, "negative target percent")
		}
		return &v, "%", reasons
	}
	if !compatible(spec.def.dim, rule.UnitCanonical) {
		return &v, unit, reasons
	}
	d := new(apd.Decimal)
	if _, err := d.SetFloat64(v); err != nil {
		return &v, unit, reasons
	}
	cd, err := toCanonical(d, spec)
	if err != nil {
		return &v, unit, reasons
	}
	f, err := cd.Float64()
	if err != nil {
		return &v, unit, reasons
	}
	return &f, rule.UnitCanonical, reasons
}

// checkYears drops years outside [MinYear, current+horizon] and a baseline
// that falls after the target.
func checkYears(baseline, target *int, env Env, reasons []string) (*int, *int, []string) {
	maxYear := env.CurrentYear + horizon(env)
	valid := func(p *int, name string) *int {
		if p == nil {
			return nil
		}
		if *p < MinYear || (env.CurrentYear > 0 && *p > maxYear) {
			reasons = append(reasons, fmt.Sprintf("%s %d out of range", name, *p))
			return nil
		}
		y := *p
		return &y
	}
	b := valid(baseline, "baseline year")
	t := valid(target, "target year")
	if b != nil && t != nil && *b > *t {
		reasons = append(reasons, fmt.Sprintf("baseline year %d after target year %d", *b, *t))
		b = nil
	}
	return b, t, reasons
}

func finishCommitment(c model.Candidate, nc *model.NormalizedCommitment) model.Outcome {
	if nc.TargetValue == nil && nc.TargetYear == nil && nc.GoalText == "" {
		return &model.Rejection{SurfaceName: c.SurfaceName, IndicatorID: nc.IndicatorID, Reason: ReasonEmptyGoal}
	}
	return nc
}

func horizon(env Env) int {
	if env.YearHorizon > 0 {
		return env.YearHorizon
	}
	return 30
}

// filterPages keeps page numbers within [1, pageCount], sorted and unique.
func filterPages(refs []int, pageCount int) []int {
	out := make([]int, 0, len(refs))
	seen := make(map[int]bool, len(refs))
	for _, p := range refs {
		if p < 1 || (pageCount > 0 && p > pageCount) || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// tidy collapses whitespace and trims quotes and list bullets.
func tidy(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " \"'“”‘’•·*-")
}

// Options configure a Postprocessor.
type Options struct {
	// Now supplies the current year. Defaults to time.Now.
	Now func() time.Time
	// YearHorizon caps target years at now+horizon. Defaults to 30.
	YearHorizon int
}

// Input is the per-report context for Process.
type Input struct {
	ReportYear int
	PageCount  int
	Pages      map[int]string
}

// Postprocessor resolves surface names through the catalogue and normalizes
// candidates. It is safe for concurrent use.
type Postprocessor struct {
	cat  *catalogue.Catalogue
	opts Options
}

// New creates a Postprocessor over cat.
func New(cat *catalogue.Catalogue, opts Options) *Postprocessor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.YearHorizon <= 0 {
		opts.YearHorizon = 30
	}
	return &Postprocessor{cat: cat, opts: opts}
}

// UnresolvedReason is the rejection reason for a surface name that matched
// no indicator.
func UnresolvedReason(surface string) string {
	return "unresolved indicator: " + strings.ToLower(strings.Join(strings.Fields(surface), " "))
}

// Process canonicalizes the surface name and normalizes c.
func (p *Postprocessor) Process(c model.Candidate, in Input) model.Outcome {
	id, ok := p.cat.Resolve(c.SurfaceName)
	if !ok {
		return &model.Rejection{SurfaceName: c.SurfaceName, Reason: UnresolvedReason(c.SurfaceName), Unresolved: true}
	}
	rule, ok := p.cat.Rule(id)
	if !ok {
		return &model.Rejection{SurfaceName: c.SurfaceName, IndicatorID: id, Reason: ReasonUnknownRule}
	}
	return Normalize(c, rule, Env{
		ReportYear:  in.ReportYear,
		PageCount:   in.PageCount,
		CurrentYear: p.opts.Now().Year(),
		YearHorizon: p.opts.YearHorizon,
		Pages:       in.Pages,
	})
}

// ProcessAll normalizes every candidate and collapses duplicates. Of two
// metrics for the same indicator and year a numeric value beats text and an
// unflagged value beats a warning; otherwise the first wins. Commitments
// sharing a key are merged.
func (p *Postprocessor) ProcessAll(cands []model.Candidate, in Input) model.Normalized {
	var out model.Normalized
	type metricKey struct {
		id   string
		year int
	}
	metricIdx := make(map[metricKey]int)
	commitIdx := make(map[model.CommitmentKey]int)

	for _, c := range cands {
		switch o := p.Process(c, in).(type) {
		case *model.NormalizedMetric:
			k := metricKey{o.IndicatorID, o.IndicatorYear}
			i, dup := metricIdx[k]
			if !dup {
				metricIdx[k] = len(out.Metrics)
				out.Add(o)
				continue
			}
			loser := o
			if betterMetric(o, &out.Metrics[i]) {
				prev := out.Metrics[i]
				loser = &prev
				out.Metrics[i] = *o
			}
			out.Add(&model.Rejection{SurfaceName: c.SurfaceName, IndicatorID: loser.IndicatorID, Reason: ReasonDuplicate})
		case *model.NormalizedCommitment:
			k := o.Key()
			if i, dup := commitIdx[k]; dup {
				mergeCommitment(&out.Commitments[i], o)
				continue
			}
			commitIdx[k] = len(out.Commitments)
			out.Add(o)
		case *model.Rejection:
			out.Add(o)
		}
	}

	zap.L().Debug("postprocess: normalized candidates",
		zap.Int("candidates", len(cands)),
		zap.Int("metrics", len(out.Metrics)),
		zap.Int("commitments", len(out.Commitments)),
		zap.Int("rejections", len(out.Rejections)),
	)
	return out
}

func betterMetric(a, b *model.NormalizedMetric) bool {
	if (a.ValueNumeric != nil) != (b.ValueNumeric != nil) {
		return a.ValueNumeric != nil
	}
	if a.Warning != b.Warning {
		return !a.Warning
	}
	return false
}

func mergeCommitment(dst, src *model.NormalizedCommitment) {
	if dst.TargetValue == nil && src.TargetValue != nil {
		dst.TargetValue, dst.TargetUnit = src.TargetValue, src.TargetUnit
	}
	if dst.ProgressText == "" {
		dst.ProgressText = src.ProgressText
	}
	if dst.SourceNote == "" {
		dst.SourceNote = src.SourceNote
	}
	dst.PageRefs = filterPages(append(append([]int{}, dst.PageRefs...), src.PageRefs...), 0)
}

// AsCandidate renders a metric back into candidate form in canonical units.
func AsCandidate(m model.NormalizedMetric) model.Candidate {
	c := model.Candidate{
		Kind:        model.KindMetric,
		Theme:       m.Theme,
		SurfaceName: m.IndicatorID,
		Year:        model.IntPtr(m.IndicatorYear),
		PageRefs:    append([]int(nil), m.PageRefs...),
		SourceNote:  m.SourceNote,
	}
	if m.ValueNumeric != nil {
		c.RawValue = FormatValue(*m.ValueNumeric)
		c.RawUnit = m.Unit
	} else if m.ValueText != nil {
		c.RawValue = *m.ValueText
	}
	return c
}
