// Package store persists normalized metrics and commitments and the
// per-run lineage log, in Postgres or a local SQLite file.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

// Records is everything one PDF contributes, written in a single
// transaction.
type Records struct {
	CompanyID       string
	RunID           string
	PipelineVersion string
	IngestedAt      time.Time
	Metrics         []model.NormalizedMetric
	Commitments     []model.NormalizedCommitment
}

// Written counts rows inserted or replaced. Rows kept because the stored
// copy was newer, or identical, are not counted.
type Written struct {
	Metrics     int `json:"metrics"`
	Commitments int `json:"commitments"`
}

// MetricRow is a stored metric.
type MetricRow struct {
	CompanyID string `json:"company_id"`
	model.NormalizedMetric
	RunID           string    `json:"run_id"`
	PipelineVersion string    `json:"pipeline_version"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// CommitmentRow is a stored commitment.
type CommitmentRow struct {
	CompanyID string `json:"company_id"`
	model.NormalizedCommitment
	GoalHash        string    `json:"goal_hash,omitempty"`
	RunID           string    `json:"run_id"`
	PipelineVersion string    `json:"pipeline_version"`
	IngestedAt      time.Time `json:"ingested_at"`
}

// LineageFilter specifies criteria for listing lineage rows.
type LineageFilter struct {
	CompanyID string              `json:"company_id,omitempty"`
	BatchID   string              `json:"batch_id,omitempty"`
	Status    model.LineageStatus `json:"status,omitempty"`
	Since     time.Time           `json:"since,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Offset    int                 `json:"offset,omitempty"`
}

// LineageSummary aggregates lineage rows.
type LineageSummary struct {
	Runs     int                         `json:"runs"`
	ByStatus map[model.LineageStatus]int `json:"by_status"`
	Seconds  float64                     `json:"seconds"`
	CostUSD  float64                     `json:"cost_usd"`
}

// FailureRate is failed runs over finished runs, cancelled ones excluded.
func (s *LineageSummary) FailureRate() float64 {
	finished := s.Runs - s.ByStatus[model.LineageCancelled]
	if finished <= 0 {
		return 0
	}
	return float64(s.ByStatus[model.LineageFailed]) / float64(finished)
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Persist upserts all records in one transaction: either every row
	// lands or none does.
	Persist(ctx context.Context, recs *Records) (Written, error)
	ListMetrics(ctx context.Context, companyID string) ([]MetricRow, error)
	ListCommitments(ctx context.Context, companyID string) ([]CommitmentRow, error)

	// Lineage
	AppendLineage(ctx context.Context, l *model.Lineage) error
	GetLineage(ctx context.Context, runID string) (*model.Lineage, error)
	ListLineage(ctx context.Context, filter LineageFilter) ([]model.Lineage, error)
	SummarizeLineage(ctx context.Context, filter LineageFilter) (*LineageSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a lineage row does not exist.
var ErrNotFound = eris.New("store: not found")

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, resilience.NewConfigError(eris.New("store: database_url is required"))
	}
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, resilience.NewConfigError(eris.Errorf("store: unknown driver %q", cfg.Driver))
	}
}

// VersionKey renders a dotted pipeline version so that string order is
// numeric order: "v0.10.0" sorts after "v0.9.0". Up to four numeric
// components are used; anything after "-" or "+" is ignored.
func VersionKey(version string) string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	out := make([]string, 4)
	for i := range out {
		n := 0
		if i < len(parts) {
			n, _ = strconv.Atoi(leadingDigits(parts[i]))
		}
		out[i] = fmt.Sprintf("%06d", n)
	}
	return strings.Join(out, ".")
}

func leadingDigits(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}

// contentHash fingerprints a row's data columns so a rerun that produces
// the same content leaves the stored row untouched.
func contentHash(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: hash row")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}

func yearOrZero(y *int) int {
	if y == nil {
		return 0
	}
	return *y
}

func zeroToNil(y int) *int {
	if y == 0 {
		return nil
	}
	return &y
}

// lineageWhere renders the filter as a WHERE clause using ph for the n-th
// placeholder and ts to bind timestamps.
func lineageWhere(f LineageFilter, ph func(n int) string, ts func(time.Time) any) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, ph(len(args))))
	}
	if f.CompanyID != "" {
		add("company_id = %s", f.CompanyID)
	}
	if f.BatchID != "" {
		add("batch_id = %s", f.BatchID)
	}
	if f.Status != "" {
		add("status = %s", string(f.Status))
	}
	if !f.Since.IsZero() {
		add("ts >= %s", ts(f.Since.UTC()))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
