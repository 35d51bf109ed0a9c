package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/esg-extract/internal/model"
)

// sqliteTime is a fixed-width UTC layout, so stored timestamps compare
// correctly as strings.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; a second connection would only see SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(_ context.Context) error {
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate driver")
	}
	return migrateWithDriver("sqlite", drv)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func sqliteTimeArg(t time.Time) any { return formatTime(t) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func jsonPageRefs(refs []int) (any, error) {
	if refs == nil {
		refs = []int{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal page refs")
	}
	return string(b), nil
}

// sqliteUpsert builds the row-at-a-time equivalent of db.BulkUpsert.
func sqliteUpsert(table string, columns, keys []string) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (?" +
		strings.Repeat(", ?", len(columns)-1) + ") ON CONFLICT (" + strings.Join(keys, ", ") +
		") DO UPDATE SET " + strings.Join(sets, ", ") + " WHERE " + recencyGuard(table)
}

var (
	sqliteMetricUpsert     = sqliteUpsert("metrics", metricColumns, []string{"company_id", "indicator_id", "indicator_year"})
	sqliteCommitmentUpsert = sqliteUpsert("commitments", commitmentColumns, []string{"company_id", "indicator_id", "target_year", "baseline_year", "goal_hash"})
)

// Persist upserts metrics and commitments in one transaction.
func (s *SQLiteStore) Persist(ctx context.Context, recs *Records) (Written, error) {
	var w Written
	if len(recs.Metrics) == 0 && len(recs.Commitments) == 0 {
		return w, nil
	}

	mRows, err := metricRows(recs, jsonPageRefs)
	if err != nil {
		return w, err
	}
	cRows, err := commitmentRows(recs, jsonPageRefs)
	if err != nil {
		return w, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return w, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if w.Metrics, err = execRows(ctx, tx, sqliteMetricUpsert, mRows); err != nil {
		return Written{}, eris.Wrapf(err, "sqlite: upsert metrics for %s", recs.CompanyID)
	}
	if w.Commitments, err = execRows(ctx, tx, sqliteCommitmentUpsert, cRows); err != nil {
		return Written{}, eris.Wrapf(err, "sqlite: upsert commitments for %s", recs.CompanyID)
	}
	if err := tx.Commit(); err != nil {
		return Written{}, eris.Wrap(err, "sqlite: commit tx")
	}
	return w, nil
}

func execRows(ctx context.Context, tx *sql.Tx, query string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close() //nolint:errcheck

	n := 0
	for _, row := range rows {
		// The last column is ingested_at.
		args := append([]any(nil), row...)
		args[len(args)-1] = formatTime(args[len(args)-1].(time.Time))
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, err
		}
		affected, _ := res.RowsAffected()
		n += int(affected)
	}
	return n, nil
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, companyID string) ([]MetricRow, error) {
	rows, err := s.db.QueryContext(ctx, strings.ReplaceAll(pgMetricSelect, "$1", "?"), companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []MetricRow
	for rows.Next() {
		var (
			r              MetricRow
			refs, ingested string
		)
		if err := rows.Scan(&r.CompanyID, &r.IndicatorID, &r.IndicatorYear, &r.ReportYear, &r.Theme,
			&r.ValueNumeric, &r.ValueText, &r.Unit, &refs, &r.SourceNote, &r.Warning, &r.Reason,
			&r.RunID, &r.PipelineVersion, &ingested); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		if err := json.Unmarshal([]byte(refs), &r.PageRefs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal page refs")
		}
		if r.IngestedAt, err = parseTime(ingested); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

func (s *SQLiteStore) ListCommitments(ctx context.Context, companyID string) ([]CommitmentRow, error) {
	rows, err := s.db.QueryContext(ctx, strings.ReplaceAll(pgCommitmentSelect, "$1", "?"), companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list commitments")
	}
	defer rows.Close() //nolint:errcheck

	var out []CommitmentRow
	for rows.Next() {
		var (
			r                         CommitmentRow
			target, baseline          int
			statement, refs, ingested string
		)
		if err := rows.Scan(&r.CompanyID, &r.IndicatorID, &target, &baseline, &r.GoalHash,
			&r.ReportYear, &r.Theme, &statement, &r.GoalText, &r.ProgressText, &r.TargetValue,
			&r.TargetUnit, &refs, &r.SourceNote, &r.Reason, &r.RunID, &r.PipelineVersion, &ingested); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan commitment")
		}
		r.TargetYear, r.BaselineYear = zeroToNil(target), zeroToNil(baseline)
		r.StatementType = model.StatementType(statement)
		if err := json.Unmarshal([]byte(refs), &r.PageRefs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal page refs")
		}
		if r.IngestedAt, err = parseTime(ingested); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list commitments iterate")
}

func (s *SQLiteStore) AppendLineage(ctx context.Context, l *model.Lineage) error {
	stats, artefacts, warnings, err := marshalLineage(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lineage (run_id, batch_id, company_id, report_year, pdf_source, pipeline_version,
			ts, status, seconds, cost_usd, stats, artefacts, warnings, error, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.RunID, l.BatchID, l.CompanyID, l.ReportYear, l.PDFSource, l.PipelineVersion,
		formatTime(l.Timestamp), string(l.Status), l.Stats.Seconds, l.Stats.CostUSD,
		string(stats), string(artefacts), string(warnings), l.Error, l.ErrorKind,
	)
	return eris.Wrapf(err, "sqlite: append lineage %s", l.RunID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLineage(row rowScanner) (*model.Lineage, error) {
	var (
		l                          model.Lineage
		ts, status                 string
		stats, artefacts, warnings string
	)
	if err := row.Scan(&l.RunID, &l.BatchID, &l.CompanyID, &l.ReportYear, &l.PDFSource, &l.PipelineVersion,
		&ts, &status, &stats, &artefacts, &warnings, &l.Error, &l.ErrorKind); err != nil {
		return nil, err
	}
	var err error
	if l.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	l.Status = model.LineageStatus(status)
	if err := unmarshalLineage(&l, []byte(stats), []byte(artefacts), []byte(warnings)); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) GetLineage(ctx context.Context, runID string) (*model.Lineage, error) {
	l, err := scanSQLiteLineage(s.db.QueryRowContext(ctx, pgLineageSelect+` WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: lineage %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get lineage %s", runID)
	}
	return l, nil
}

func sqlitePlaceholder(int) string { return "?" }

func (s *SQLiteStore) ListLineage(ctx context.Context, filter LineageFilter) ([]model.Lineage, error) {
	where, args := lineageWhere(filter, sqlitePlaceholder, sqliteTimeArg)
	query := pgLineageSelect + where + ` ORDER BY ts DESC, run_id LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lineage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Lineage
	for rows.Next() {
		l, err := scanSQLiteLineage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lineage")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list lineage iterate")
}

func (s *SQLiteStore) SummarizeLineage(ctx context.Context, filter LineageFilter) (*LineageSummary, error) {
	where, args := lineageWhere(filter, sqlitePlaceholder, sqliteTimeArg)
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*), coalesce(sum(seconds), 0), coalesce(sum(cost_usd), 0) FROM lineage`+where+` GROUP BY status`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summarize lineage")
	}
	defer rows.Close() //nolint:errcheck
	return scanSummary(rows)
}
