// Package export writes the per-run inspection artefacts: a flat CSV of
// records, an XLSX workbook, the selected pages as markdown and the raw
// Pass-1/Pass-2 answers.
package export

import (
	"strconv"
	"strings"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/postprocess"
)

// Row is one line of records.csv. Metrics fill the value columns,
// commitments the goal columns. Numbers are pre-rendered with
// postprocess.FormatValue so they never switch to exponent form.
type Row struct {
	Kind          string  `csv:"kind"`
	CompanyID     string  `csv:"company_id"`
	IndicatorID   string  `csv:"indicator_id"`
	Theme         string  `csv:"theme"`
	ReportYear    int     `csv:"report_year"`
	IndicatorYear *int    `csv:"indicator_year,omitempty"`
	ValueNumeric  string  `csv:"value_numeric"`
	ValueText     *string `csv:"value_text,omitempty"`
	Unit          string  `csv:"unit"`
	Warning       bool    `csv:"warning"`
	StatementType string  `csv:"statement_type"`
	GoalText      string  `csv:"goal_text"`
	ProgressText  string  `csv:"progress_text"`
	TargetValue   string  `csv:"target_value"`
	TargetUnit    string  `csv:"target_unit"`
	BaselineYear  *int    `csv:"baseline_year,omitempty"`
	TargetYear    *int    `csv:"target_year,omitempty"`
	PageRefs      string  `csv:"page_refs"`
	SourceNote    string  `csv:"source_note"`
	Reason        string  `csv:"reason"`
}

// Rows flattens normalized records. Metrics are already one per year; they
// come first, then commitments, each in input order.
func Rows(companyID string, n *model.Normalized) []Row {
	rows := make([]Row, 0, len(n.Metrics)+len(n.Commitments))
	for _, m := range n.Metrics {
		year := m.IndicatorYear
		rows = append(rows, Row{
			Kind:          string(model.KindMetric),
			CompanyID:     companyID,
			IndicatorID:   m.IndicatorID,
			Theme:         m.Theme,
			ReportYear:    m.ReportYear,
			IndicatorYear: &year,
			ValueNumeric:  floatCell(m.ValueNumeric),
			ValueText:     m.ValueText,
			Unit:          m.Unit,
			Warning:       m.Warning,
			PageRefs:      joinPages(m.PageRefs),
			SourceNote:    m.SourceNote,
			Reason:        m.Reason,
		})
	}
	for _, c := range n.Commitments {
		rows = append(rows, Row{
			Kind:          string(model.KindCommitment),
			CompanyID:     companyID,
			IndicatorID:   c.IndicatorID,
			Theme:         c.Theme,
			ReportYear:    c.ReportYear,
			StatementType: string(c.StatementType),
			GoalText:      c.GoalText,
			ProgressText:  c.ProgressText,
			TargetValue:   floatCell(c.TargetValue),
			TargetUnit:    c.TargetUnit,
			BaselineYear:  c.BaselineYear,
			TargetYear:    c.TargetYear,
			PageRefs:      joinPages(c.PageRefs),
			SourceNote:    c.SourceNote,
			Reason:        c.Reason,
		})
	}
	return rows
}

// joinPages renders page refs as "3;7;12".
func joinPages(refs []int) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ";")
}

// cells renders a row in header order for the workbook.
func (r Row) cells() []string {
	return []string{
		r.Kind, r.CompanyID, r.IndicatorID, r.Theme, strconv.Itoa(r.ReportYear),
		intCell(r.IndicatorYear), r.ValueNumeric, strCell(r.ValueText), r.Unit,
		strconv.FormatBool(r.Warning), r.StatementType, r.GoalText, r.ProgressText,
		r.TargetValue, r.TargetUnit, intCell(r.BaselineYear), intCell(r.TargetYear),
		r.PageRefs, r.SourceNote, r.Reason,
	}
}

var header = []string{
	"kind", "company_id", "indicator_id", "theme", "report_year",
	"indicator_year", "value_numeric", "value_text", "unit",
	"warning", "statement_type", "goal_text", "progress_text",
	"target_value", "target_unit", "baseline_year", "target_year",
	"page_refs", "source_note", "reason",
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return postprocess.FormatValue(*v)
}

func strCell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
