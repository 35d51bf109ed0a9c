package model

import "time"

// LineageStatus is the terminal state of one PDF run.
type LineageStatus string

const (
	LineageOK        LineageStatus = "ok"
	LineageEmpty     LineageStatus = "empty"
	LineageFailed    LineageStatus = "failed"
	LineageCancelled LineageStatus = "cancelled"
)

// Lineage is the append-only audit record for one PDF run.
type Lineage struct {
	RunID           string        `json:"run_id"`
	BatchID         string        `json:"batch_id,omitempty"`
	CompanyID       string        `json:"company_id"`
	ReportYear      int           `json:"report_year,omitempty"`
	PDFSource       string        `json:"pdf_source"`
	PipelineVersion string        `json:"pipeline_version"`
	Timestamp       time.Time     `json:"timestamp"`
	Status          LineageStatus `json:"status"`
	Stats           LineageStats  `json:"stats"`
	Artefacts       []string      `json:"artefacts,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
}

// LineageStats are the per-run counters stored with a lineage row.
type LineageStats struct {
	Seconds              float64 `json:"seconds"`
	PagesScanned         int     `json:"pages_scanned"`
	PagesSelected        int     `json:"pages_selected"`
	ChunksSent           int     `json:"chunks_sent"`
	ChunksFailed         int     `json:"chunks_failed"`
	CandidatesEmitted    int     `json:"candidates_emitted"`
	CandidatesAccepted   int     `json:"candidates_accepted"`
	CandidatesRejected   int     `json:"candidates_rejected"`
	ValidationWarnings   int     `json:"validation_warnings"`
	MetricsPersisted     int     `json:"metrics_persisted"`
	CommitmentsPersisted int     `json:"commitments_persisted"`
	InputTokens          int64   `json:"input_tokens"`
	OutputTokens         int64   `json:"output_tokens"`
	CostUSD              float64 `json:"cost_usd"`
}

// AddWarning appends a free-text lineage warning.
func (l *Lineage) AddWarning(w string) {
	l.Warnings = append(l.Warnings, w)
}
