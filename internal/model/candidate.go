package model

// RecordKind distinguishes historical readings from forward-looking statements.
type RecordKind string

const (
	KindMetric     RecordKind = "metric"
	KindCommitment RecordKind = "commitment"
)

// StatementType classifies a commitment.
type StatementType string

const (
	StatementTarget      StatementType = "target"
	StatementPolicy      StatementType = "policy"
	StatementInitiative  StatementType = "initiative"
	StatementAchievement StatementType = "achievement"
)

// ParseStatementType maps free text onto a known StatementType. The second
// return is false when the input is not one of the four known values.
func ParseStatementType(s string) (StatementType, bool) {
	switch StatementType(s) {
	case StatementTarget, StatementPolicy, StatementInitiative, StatementAchievement:
		return StatementType(s), true
	}
	return "", false
}

// Candidate is a single item emitted by the extraction engine. Multi-year
// rows are already exploded, so Year holds at most one value.
type Candidate struct {
	Kind        RecordKind `json:"record_kind"`
	Theme       string     `json:"theme,omitempty"`
	SurfaceName string     `json:"surface_name"`
	RawValue    string     `json:"raw_value,omitempty"`
	RawUnit     string     `json:"raw_unit,omitempty"`
	Year        *int       `json:"year,omitempty"`
	PageRefs    []int      `json:"page_refs,omitempty"`
	SourceNote  string     `json:"source_note,omitempty"`

	StatementType string   `json:"statement_type,omitempty"`
	GoalText      string   `json:"goal_text,omitempty"`
	ProgressText  string   `json:"progress_text,omitempty"`
	TargetValue   *float64 `json:"target_value,omitempty"`
	TargetUnit    string   `json:"target_unit,omitempty"`
	BaselineYear  *int     `json:"baseline_year,omitempty"`
	TargetYear    *int     `json:"target_year,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }
