package extract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

//go:embed pass2.schema.json
var pass2Schema []byte

const pass2SchemaURL = "pass2.schema.json"

type pass2Schemas struct {
	doc        *jsonschema.Schema
	indicator  *jsonschema.Schema
	commitment *jsonschema.Schema
}

var loadSchemas = sync.OnceValues(func() (*pass2Schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(pass2SchemaURL, bytes.NewReader(pass2Schema)); err != nil {
		return nil, eris.Wrap(err, "extract: add pass2 schema")
	}
	var (
		s   pass2Schemas
		err error
	)
	if s.doc, err = c.Compile(pass2SchemaURL); err != nil {
		return nil, eris.Wrap(err, "extract: compile pass2 schema")
	}
	if s.indicator, err = c.Compile(pass2SchemaURL + "#/$defs/reported_indicator"); err != nil {
		return nil, eris.Wrap(err, "extract: compile reported_indicator schema")
	}
	if s.commitment, err = c.Compile(pass2SchemaURL + "#/$defs/commitment"); err != nil {
		return nil, eris.Wrap(err, "extract: compile commitment schema")
	}
	return &s, nil
})

// Pass2 is the standardised answer of the second pass.
type Pass2 struct {
	ReportedIndicators []Pass2Indicator  `json:"reported_indicators"`
	Commitments        []Pass2Commitment `json:"commitments"`
}

// Pass2Indicator is a historical reading with parallel year/value lists.
type Pass2Indicator struct {
	IndicatorName string     `json:"indicator_name"`
	Years         yearList   `json:"years"`
	ValuesNumeric numberList `json:"values_numeric"`
	ValuesText    textList   `json:"values_text"`
	Unit          string     `json:"unit"`
	PageNumber    yearList   `json:"page_number"`
	Source        string     `json:"source"`
}

// Pass2Commitment is a forward-looking statement.
type Pass2Commitment struct {
	IndicatorName string   `json:"indicator_name"`
	StatementType string   `json:"statement_type"`
	GoalText      string   `json:"goal_text"`
	ProgressText  string   `json:"progress_text"`
	TargetValue   *float64 `json:"target_value"`
	TargetUnit    string   `json:"target_unit"`
	BaselineYear  *float64 `json:"baseline_year"`
	TargetYear    *float64 `json:"target_year"`
	PageNumber    yearList `json:"page_number"`
	Source        string   `json:"source"`
}

// oneOrMany decodes a scalar, a list or null into a list.
func oneOrMany[T any](b []byte) ([]T, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	if b[0] == '[' {
		var l []T
		err := json.Unmarshal(b, &l)
		return l, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return []T{v}, nil
}

// yearList holds integers that may arrive as 2022 or 2022.0.
type yearList []int

func (l *yearList) UnmarshalJSON(b []byte) error {
	fs, err := oneOrMany[float64](b)
	if err != nil {
		return err
	}
	out := make(yearList, 0, len(fs))
	for _, f := range fs {
		if f != math.Trunc(f) {
			return fmt.Errorf("non-integer %v", f)
		}
		out = append(out, int(f))
	}
	*l = out
	return nil
}

type numberList []*float64

func (l *numberList) UnmarshalJSON(b []byte) error {
	v, err := oneOrMany[*float64](b)
	*l = v
	return err
}

type textList []*string

func (l *textList) UnmarshalJSON(b []byte) error {
	v, err := oneOrMany[*string](b)
	*l = v
	return err
}

// parsePass2 decodes and validates the Pass-2 answer. A document that is
// malformed or fails the top-level schema is a quality error; single items
// that fail their schema are dropped with a warning.
func parsePass2(text string) (*Pass2, []string, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, nil, resilience.NewConfigError(err)
	}

	var doc any
	if err := decodeModelJSON(text, &doc); err != nil {
		return nil, nil, err
	}
	if err := schemas.doc.Validate(doc); err != nil {
		return nil, nil, resilience.NewQualityError(eris.Wrap(err, "extract: pass2 output does not match schema"))
	}
	obj, _ := doc.(map[string]any)

	var (
		out      Pass2
		warnings []string
	)
	for i, item := range asList(obj["reported_indicators"]) {
		var ind Pass2Indicator
		if w := decodeItem(schemas.indicator, item, &ind); w != "" {
			warnings = append(warnings, fmt.Sprintf("pass2: dropped reported indicator %d: %s", i, w))
			continue
		}
		out.ReportedIndicators = append(out.ReportedIndicators, ind)
	}
	for i, item := range asList(obj["commitments"]) {
		var c Pass2Commitment
		if w := decodeItem(schemas.commitment, item, &c); w != "" {
			warnings = append(warnings, fmt.Sprintf("pass2: dropped commitment %d: %s", i, w))
			continue
		}
		out.Commitments = append(out.Commitments, c)
	}
	return &out, warnings, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// decodeItem validates item and decodes it into dst. It returns a short
// reason on failure.
func decodeItem(s *jsonschema.Schema, item any, dst any) string {
	if err := s.Validate(item); err != nil {
		var ve *jsonschema.ValidationError
		if eris.As(err, &ve) && len(ve.Causes) > 0 {
			return ve.Causes[0].Error()
		}
		return err.Error()
	}
	b, err := json.Marshal(item)
	if err != nil {
		return err.Error()
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return err.Error()
	}
	return ""
}

// Candidates explodes the answer into one candidate per (indicator, year)
// and one per commitment. Items whose year and value lists do not line up
// are dropped with a warning.
func (p *Pass2) Candidates() ([]model.Candidate, []string) {
	var (
		out      []model.Candidate
		warnings []string
	)
	for _, ind := range p.ReportedIndicators {
		cs, err := ind.candidates()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("pass2: dropped %q: %v", ind.IndicatorName, err))
			continue
		}
		out = append(out, cs...)
	}
	for _, c := range p.Commitments {
		out = append(out, c.candidate())
	}
	return out, warnings
}

var (
	errMisaligned = eris.New("years and values are not aligned")
	errNoValue    = eris.New("no value")
)

func (ind Pass2Indicator) candidates() ([]model.Candidate, error) {
	slots := max(len(ind.Years), 1)
	nums, texts := ind.ValuesNumeric, ind.ValuesText
	if len(nums) == 0 && len(texts) == 0 {
		return nil, errNoValue
	}
	if (len(nums) > 0 && len(nums) != slots) || (len(texts) > 0 && len(texts) != slots) {
		return nil, errMisaligned
	}

	order := make([]int, slots)
	for i := range order {
		order[i] = i
	}
	if len(ind.Years) > 1 {
		sort.SliceStable(order, func(a, b int) bool { return ind.Years[order[a]] < ind.Years[order[b]] })
	}

	var out []model.Candidate
	for _, i := range order {
		raw, ok := slotValue(nums, texts, i)
		if !ok {
			continue
		}
		c := model.Candidate{
			Kind:        model.KindMetric,
			SurfaceName: ind.IndicatorName,
			RawValue:    raw,
			RawUnit:     strings.TrimSpace(ind.Unit),
			PageRefs:    []int(ind.PageNumber),
			SourceNote:  ind.Source,
		}
		if len(ind.Years) > 0 {
			c.Year = model.IntPtr(ind.Years[i])
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errNoValue
	}
	return out, nil
}

func slotValue(nums numberList, texts textList, i int) (string, bool) {
	if i < len(nums) && nums[i] != nil {
		return strconv.FormatFloat(*nums[i], 'f', -1, 64), true
	}
	if i < len(texts) && texts[i] != nil {
		if s := strings.TrimSpace(*texts[i]); s != "" {
			return s, true
		}
	}
	return "", false
}

func (c Pass2Commitment) candidate() model.Candidate {
	return model.Candidate{
		Kind:          model.KindCommitment,
		SurfaceName:   c.IndicatorName,
		StatementType: strings.ToLower(strings.TrimSpace(c.StatementType)),
		GoalText:      c.GoalText,
		ProgressText:  c.ProgressText,
		TargetValue:   c.TargetValue,
		TargetUnit:    strings.TrimSpace(c.TargetUnit),
		BaselineYear:  yearPtr(c.BaselineYear),
		TargetYear:    yearPtr(c.TargetYear),
		PageRefs:      []int(c.PageNumber),
		SourceNote:    c.Source,
	}
}

func yearPtr(f *float64) *int {
	if f == nil {
		return nil
	}
	return model.IntPtr(int(*f))
}
