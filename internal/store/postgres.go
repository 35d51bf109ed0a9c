package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/db"
	"github.com/sells-group/esg-extract/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	url     string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, url: connString, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool for subsystems that share the database,
// such as the JSONB document store.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(_ context.Context) error {
	return migratePostgres(s.url)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var metricColumns = []string{
	"company_id", "indicator_id", "indicator_year", "report_year", "theme",
	"value_numeric", "value_text", "unit", "page_refs", "source_note",
	"warning", "reason", "run_id", "pipeline_version", "version_key",
	"content_hash", "ingested_at",
}

var commitmentColumns = []string{
	"company_id", "indicator_id", "target_year", "baseline_year", "goal_hash",
	"report_year", "theme", "statement_type", "goal_text", "progress_text",
	"target_value", "target_unit", "page_refs", "source_note", "reason",
	"run_id", "pipeline_version", "version_key", "content_hash", "ingested_at",
}

// recencyGuard lets an incoming row replace the stored one only when its
// content differs and its (version, ingested_at) is newer.
func recencyGuard(target string) string {
	return fmt.Sprintf(
		"EXCLUDED.content_hash <> %[1]s.content_hash AND (EXCLUDED.version_key, EXCLUDED.ingested_at) > (%[1]s.version_key, %[1]s.ingested_at)",
		target,
	)
}

// Persist upserts metrics and commitments in one transaction.
func (s *PostgresStore) Persist(ctx context.Context, recs *Records) (Written, error) {
	var w Written
	if len(recs.Metrics) == 0 && len(recs.Commitments) == 0 {
		return w, nil
	}

	mRows, err := metricRows(recs, pgPageRefs)
	if err != nil {
		return w, err
	}
	cRows, err := commitmentRows(recs, pgPageRefs)
	if err != nil {
		return w, err
	}

	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "metrics",
			Columns:      metricColumns,
			ConflictKeys: []string{"company_id", "indicator_id", "indicator_year"},
			Where:        recencyGuard(db.TargetAlias),
		}, mRows)
		if err != nil {
			return err
		}
		w.Metrics = int(n)

		n, err = db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "commitments",
			Columns:      commitmentColumns,
			ConflictKeys: []string{"company_id", "indicator_id", "target_year", "baseline_year", "goal_hash"},
			Where:        recencyGuard(db.TargetAlias),
		}, cRows)
		if err != nil {
			return err
		}
		w.Commitments = int(n)
		return nil
	})
	if err != nil {
		return Written{}, eris.Wrapf(err, "postgres: persist %s", recs.CompanyID)
	}
	return w, nil
}

func pgPageRefs(refs []int) (any, error) {
	out := make([]int32, len(refs))
	for i, r := range refs {
		out[i] = int32(r)
	}
	return out, nil
}

// metricRows flattens metrics into column order. pageRefs encodes the page
// list for the dialect.
func metricRows(recs *Records, pageRefs func([]int) (any, error)) ([][]any, error) {
	version := VersionKey(recs.PipelineVersion)
	rows := make([][]any, 0, len(recs.Metrics))
	for _, m := range recs.Metrics {
		hash, err := contentHash(m)
		if err != nil {
			return nil, err
		}
		refs, err := pageRefs(m.PageRefs)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			recs.CompanyID, m.IndicatorID, m.IndicatorYear, m.ReportYear, m.Theme,
			m.ValueNumeric, m.ValueText, m.Unit, refs, m.SourceNote,
			m.Warning, m.Reason, recs.RunID, recs.PipelineVersion, version,
			hash, recs.IngestedAt.UTC(),
		})
	}
	return rows, nil
}

func commitmentRows(recs *Records, pageRefs func([]int) (any, error)) ([][]any, error) {
	version := VersionKey(recs.PipelineVersion)
	rows := make([][]any, 0, len(recs.Commitments))
	for _, c := range recs.Commitments {
		hash, err := contentHash(c)
		if err != nil {
			return nil, err
		}
		refs, err := pageRefs(c.PageRefs)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			recs.CompanyID, c.IndicatorID, yearOrZero(c.TargetYear), yearOrZero(c.BaselineYear), c.GoalHash(),
			c.ReportYear, c.Theme, string(c.StatementType), c.GoalText, c.ProgressText,
			c.TargetValue, c.TargetUnit, refs, c.SourceNote, c.Reason,
			recs.RunID, recs.PipelineVersion, version, hash, recs.IngestedAt.UTC(),
		})
	}
	return rows, nil
}

const pgMetricSelect = `SELECT company_id, indicator_id, indicator_year, report_year, theme,
	value_numeric, value_text, unit, page_refs, source_note, warning, reason,
	run_id, pipeline_version, ingested_at
	FROM metrics WHERE company_id = $1 ORDER BY indicator_id, indicator_year`

func (s *PostgresStore) ListMetrics(ctx context.Context, companyID string) ([]MetricRow, error) {
	rows, err := s.pool.Query(ctx, pgMetricSelect, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metrics")
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var (
			r    MetricRow
			refs []int32
		)
		if err := rows.Scan(&r.CompanyID, &r.IndicatorID, &r.IndicatorYear, &r.ReportYear, &r.Theme,
			&r.ValueNumeric, &r.ValueText, &r.Unit, &refs, &r.SourceNote, &r.Warning, &r.Reason,
			&r.RunID, &r.PipelineVersion, &r.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		r.PageRefs = fromInt32(refs)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

const pgCommitmentSelect = `SELECT company_id, indicator_id, target_year, baseline_year, goal_hash,
	report_year, theme, statement_type, goal_text, progress_text, target_value,
	target_unit, page_refs, source_note, reason, run_id, pipeline_version, ingested_at
	FROM commitments WHERE company_id = $1 ORDER BY indicator_id, target_year, baseline_year, goal_hash`

func (s *PostgresStore) ListCommitments(ctx context.Context, companyID string) ([]CommitmentRow, error) {
	rows, err := s.pool.Query(ctx, pgCommitmentSelect, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list commitments")
	}
	defer rows.Close()

	var out []CommitmentRow
	for rows.Next() {
		var (
			r                CommitmentRow
			target, baseline int
			statement        string
			refs             []int32
		)
		if err := rows.Scan(&r.CompanyID, &r.IndicatorID, &target, &baseline, &r.GoalHash,
			&r.ReportYear, &r.Theme, &statement, &r.GoalText, &r.ProgressText, &r.TargetValue,
			&r.TargetUnit, &refs, &r.SourceNote, &r.Reason, &r.RunID, &r.PipelineVersion, &r.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan commitment")
		}
		r.TargetYear, r.BaselineYear = zeroToNil(target), zeroToNil(baseline)
		r.StatementType = model.StatementType(statement)
		r.PageRefs = fromInt32(refs)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list commitments iterate")
}

func fromInt32(refs []int32) []int {
	out := make([]int, len(refs))
	for i, r := range refs {
		out[i] = int(r)
	}
	return out
}

// AppendLineage inserts one lineage row. Lineage is append-only; a repeated
// run id is an error.
func (s *PostgresStore) AppendLineage(ctx context.Context, l *model.Lineage) error {
	stats, artefacts, warnings, err := marshalLineage(l)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lineage (run_id, batch_id, company_id, report_year, pdf_source, pipeline_version,
			ts, status, seconds, cost_usd, stats, artefacts, warnings, error, error_kind)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.RunID, l.BatchID, l.CompanyID, l.ReportYear, l.PDFSource, l.PipelineVersion,
		l.Timestamp.UTC(), string(l.Status), l.Stats.Seconds, l.Stats.CostUSD,
		stats, artefacts, warnings, l.Error, l.ErrorKind,
	)
	return eris.Wrapf(err, "postgres: append lineage %s", l.RunID)
}

func marshalLineage(l *model.Lineage) (stats, artefacts, warnings []byte, err error) {
	if stats, err = json.Marshal(l.Stats); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal lineage stats")
	}
	if artefacts, err = json.Marshal(nonNil(l.Artefacts)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal lineage artefacts")
	}
	if warnings, err = json.Marshal(nonNil(l.Warnings)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal lineage warnings")
	}
	return stats, artefacts, warnings, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unmarshalLineage(l *model.Lineage, stats, artefacts, warnings []byte) error {
	if err := json.Unmarshal(stats, &l.Stats); err != nil {
		return eris.Wrap(err, "store: unmarshal lineage stats")
	}
	if err := json.Unmarshal(artefacts, &l.Artefacts); err != nil {
		return eris.Wrap(err, "store: unmarshal lineage artefacts")
	}
	if err := json.Unmarshal(warnings, &l.Warnings); err != nil {
		return eris.Wrap(err, "store: unmarshal lineage warnings")
	}
	if len(l.Artefacts) == 0 {
		l.Artefacts = nil
	}
	if len(l.Warnings) == 0 {
		l.Warnings = nil
	}
	return nil
}

const pgLineageSelect = `SELECT run_id, batch_id, company_id, report_year, pdf_source, pipeline_version,
	ts, status, stats, artefacts, warnings, error, error_kind FROM lineage`

func scanPGLineage(row pgx.Row) (*model.Lineage, error) {
	var (
		l                          model.Lineage
		status                     string
		stats, artefacts, warnings []byte
	)
	if err := row.Scan(&l.RunID, &l.BatchID, &l.CompanyID, &l.ReportYear, &l.PDFSource, &l.PipelineVersion,
		&l.Timestamp, &status, &stats, &artefacts, &warnings, &l.Error, &l.ErrorKind); err != nil {
		return nil, err
	}
	l.Status = model.LineageStatus(status)
	if err := unmarshalLineage(&l, stats, artefacts, warnings); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) GetLineage(ctx context.Context, runID string) (*model.Lineage, error) {
	l, err := scanPGLineage(s.pool.QueryRow(ctx, pgLineageSelect+` WHERE run_id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: lineage %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get lineage %s", runID)
	}
	return l, nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func pgTime(t time.Time) any { return t }

func (s *PostgresStore) ListLineage(ctx context.Context, filter LineageFilter) ([]model.Lineage, error) {
	where, args := lineageWhere(filter, pgPlaceholder, pgTime)
	query := pgLineageSelect + where + ` ORDER BY ts DESC, run_id`

	args = append(args, defaultLimit(filter.Limit))
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lineage")
	}
	defer rows.Close()

	var out []model.Lineage
	for rows.Next() {
		l, err := scanPGLineage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lineage")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list lineage iterate")
}

func (s *PostgresStore) SummarizeLineage(ctx context.Context, filter LineageFilter) (*LineageSummary, error) {
	where, args := lineageWhere(filter, pgPlaceholder, pgTime)
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*), coalesce(sum(seconds), 0), coalesce(sum(cost_usd), 0) FROM lineage`+where+` GROUP BY status`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summarize lineage")
	}
	defer rows.Close()
	return scanSummary(rows)
}

// summaryRows is the part of pgx.Rows and *sql.Rows scanSummary needs.
type summaryRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSummary(rows summaryRows) (*LineageSummary, error) {
	sum := &LineageSummary{ByStatus: map[model.LineageStatus]int{}}
	for rows.Next() {
		var (
			status  string
			n       int
			seconds float64
			cost    float64
		)
		if err := rows.Scan(&status, &n, &seconds, &cost); err != nil {
			return nil, eris.Wrap(err, "store: scan lineage summary")
		}
		sum.ByStatus[model.LineageStatus(status)] = n
		sum.Runs += n
		sum.Seconds += seconds
		sum.CostUSD += cost
	}
	return sum, eris.Wrap(rows.Err(), "store: lineage summary iterate")
}
