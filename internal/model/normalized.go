package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Outcome is the result of postprocessing one Candidate: a
// *NormalizedMetric, a *NormalizedCommitment or a *Rejection.
type Outcome interface {
	outcome()
}

// NormalizedMetric is a validated historical reading in canonical units.
// Exactly one of ValueNumeric and ValueText is set.
type NormalizedMetric struct {
	IndicatorID   string   `json:"indicator_id"`
	Theme         string   `json:"theme"`
	ReportYear    int      `json:"report_year"`
	IndicatorYear int      `json:"indicator_year"`
	ValueNumeric  *float64 `json:"value_numeric,omitempty"`
	ValueText     *string  `json:"value_text,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	PageRefs      []int    `json:"page_refs"`
	SourceNote    string   `json:"source_note,omitempty"`

	// Warning is set when the value exceeds warn_above but is within range.
	Warning bool `json:"warning,omitempty"`
	// Reason explains why a value was kept as text or flagged.
	Reason string `json:"reason,omitempty"`
}

// NormalizedCommitment is a forward-looking statement tied to an indicator.
type NormalizedCommitment struct {
	IndicatorID   string        `json:"indicator_id"`
	Theme         string        `json:"theme"`
	ReportYear    int           `json:"report_year"`
	StatementType StatementType `json:"statement_type"`
	GoalText      string        `json:"goal_text,omitempty"`
	ProgressText  string        `json:"progress_text,omitempty"`
	TargetValue   *float64      `json:"target_value,omitempty"`
	TargetUnit    string        `json:"target_unit,omitempty"`
	BaselineYear  *int          `json:"baseline_year,omitempty"`
	TargetYear    *int          `json:"target_year,omitempty"`
	PageRefs      []int         `json:"page_refs"`
	SourceNote    string        `json:"source_note,omitempty"`
	// Reason notes fields that were dropped during normalization.
	Reason string `json:"reason,omitempty"`
}

// GoalHash keys a commitment that has neither a target nor a baseline year:
// the first 16 hex chars of sha256 over the folded, whitespace-collapsed
// goal text. It is empty when either year is set.
func (c *NormalizedCommitment) GoalHash() string {
	if c.TargetYear != nil || c.BaselineYear != nil {
		return ""
	}
	folded := strings.Join(strings.Fields(cases.Fold().String(norm.NFKC.String(c.GoalText))), " ")
	sum := sha256.Sum256([]byte(folded))
	return hex.EncodeToString(sum[:])[:16]
}

// Key identifies a commitment row within one company.
func (c *NormalizedCommitment) Key() CommitmentKey {
	k := CommitmentKey{IndicatorID: c.IndicatorID, GoalHash: c.GoalHash()}
	if c.TargetYear != nil {
		k.TargetYear = *c.TargetYear
	}
	if c.BaselineYear != nil {
		k.BaselineYear = *c.BaselineYear
	}
	return k
}

// CommitmentKey is the commitment primary key minus company_id. Null years
// are zero.
type CommitmentKey struct {
	IndicatorID  string
	TargetYear   int
	BaselineYear int
	GoalHash     string
}

// Rejection records a candidate that produced no row.
type Rejection struct {
	SurfaceName string `json:"surface_name"`
	IndicatorID string `json:"indicator_id,omitempty"`
	Reason      string `json:"reason"`
	// Unresolved is true when the surface name matched no catalogue entry.
	Unresolved bool `json:"unresolved,omitempty"`
}

func (*NormalizedMetric) outcome()     {}
func (*NormalizedCommitment) outcome() {}
func (*Rejection) outcome()            {}

// Normalized gathers the outcomes for one report.
type Normalized struct {
	Metrics     []NormalizedMetric     `json:"metrics"`
	Commitments []NormalizedCommitment `json:"commitments"`
	Rejections  []Rejection            `json:"rejections"`
}

// Add files an outcome into the matching slice.
func (n *Normalized) Add(o Outcome) {
	switch v := o.(type) {
	case *NormalizedMetric:
		n.Metrics = append(n.Metrics, *v)
	case *NormalizedCommitment:
		n.Commitments = append(n.Commitments, *v)
	case *Rejection:
		n.Rejections = append(n.Rejections, *v)
	}
}

// Warnings counts metrics flagged with a validation warning.
func (n *Normalized) Warnings() int {
	c := 0
	for _, m := range n.Metrics {
		if m.Warning {
			c++
		}
	}
	return c
}

// Empty reports whether nothing would be persisted.
func (n *Normalized) Empty() bool {
	return len(n.Metrics) == 0 && len(n.Commitments) == 0
}
