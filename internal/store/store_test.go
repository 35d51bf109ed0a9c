package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func metric(id string, year int, value float64) model.NormalizedMetric {
	return model.NormalizedMetric{
		IndicatorID:   id,
		Theme:         "Emissions",
		ReportYear:    2023,
		IndicatorYear: year,
		ValueNumeric:  model.FloatPtr(value),
		Unit:          "tCO2e",
		PageRefs:      []int{12, 14},
	}
}

func records(version string, at time.Time, metrics ...model.NormalizedMetric) *Records {
	return &Records{
		CompanyID:       "acme",
		RunID:           fmt.Sprintf("run-%s-%d", version, at.Unix()),
		PipelineVersion: version,
		IngestedAt:      at,
		Metrics:         metrics,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PersistAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		text := "not reported"
		recs := records("v0.2.0", t0,
			metric("scope1_emissions", 2023, 1200.5),
			metric("scope1_emissions", 2022, 1300),
			model.NormalizedMetric{
				IndicatorID: "water_withdrawal", Theme: "Water", ReportYear: 2023, IndicatorYear: 2023,
				ValueText: &text, Reason: "not_available", Warning: true, PageRefs: []int{3},
			},
		)
		recs.Commitments = []model.NormalizedCommitment{{
			IndicatorID:   "scope1_emissions",
			Theme:         "Emissions",
			ReportYear:    2023,
			StatementType: model.StatementTarget,
			GoalText:      "Cut scope 1 by 50%",
			TargetValue:   model.FloatPtr(50),
			TargetUnit:    "%",
			BaselineYear:  model.IntPtr(2019),
			TargetYear:    model.IntPtr(2030),
			PageRefs:      []int{40},
		}}

		w, err := s.Persist(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, Written{Metrics: 3, Commitments: 1}, w)

		metrics, err := s.ListMetrics(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, metrics, 3)
		assert.Equal(t, "scope1_emissions", metrics[0].IndicatorID)
		assert.Equal(t, 2022, metrics[0].IndicatorYear)
		assert.Equal(t, 2023, metrics[1].IndicatorYear)
		assert.InDelta(t, 1200.5, *metrics[1].ValueNumeric, 1e-9)
		assert.Equal(t, []int{12, 14}, metrics[1].PageRefs)
		assert.Equal(t, recs.RunID, metrics[1].RunID)
		assert.True(t, t0.Equal(metrics[1].IngestedAt))

		water := metrics[2]
		assert.Nil(t, water.ValueNumeric)
		require.NotNil(t, water.ValueText)
		assert.Equal(t, "not reported", *water.ValueText)
		assert.True(t, water.Warning)
		assert.Equal(t, "not_available", water.Reason)

		commitments, err := s.ListCommitments(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, commitments, 1)
		c := commitments[0]
		assert.Equal(t, model.StatementTarget, c.StatementType)
		assert.Equal(t, 2030, *c.TargetYear)
		assert.Equal(t, 2019, *c.BaselineYear)
		assert.Empty(t, c.GoalHash)
		assert.Equal(t, []int{40}, c.PageRefs)

		other, err := s.ListMetrics(ctx, "someone-else")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("PersistEmpty", func(t *testing.T) {
		s := newStore(t)
		w, err := s.Persist(context.Background(), records("v0.1.0", t0))
		require.NoError(t, err)
		assert.Zero(t, w)
	})

	t.Run("RecencyGuard", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		value := func() float64 {
			rows, err := s.ListMetrics(ctx, "acme")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			return *rows[0].ValueNumeric
		}

		w, err := s.Persist(ctx, records("v0.9.0", t0, metric("scope1_emissions", 2023, 10)))
		require.NoError(t, err)
		assert.Equal(t, 1, w.Metrics)

		// Older pipeline version, later run: ignored.
		w, err = s.Persist(ctx, records("v0.8.5", t0.Add(time.Hour), metric("scope1_emissions", 2023, 20)))
		require.NoError(t, err)
		assert.Equal(t, 0, w.Metrics)
		assert.InDelta(t, 10.0, value(), 1e-9)

		// Identical content: untouched, ingested_at preserved.
		w, err = s.Persist(ctx, records("v0.9.0", t0.Add(2*time.Hour), metric("scope1_emissions", 2023, 10)))
		require.NoError(t, err)
		assert.Equal(t, 0, w.Metrics)
		rows, err := s.ListMetrics(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, t0.Equal(rows[0].IngestedAt))

		// v0.10.0 sorts after v0.9.0.
		w, err = s.Persist(ctx, records("v0.10.0", t0.Add(3*time.Hour), metric("scope1_emissions", 2023, 30)))
		require.NoError(t, err)
		assert.Equal(t, 1, w.Metrics)
		assert.InDelta(t, 30.0, value(), 1e-9)

		// Same version, later run, different content: replaces.
		w, err = s.Persist(ctx, records("v0.10.0", t0.Add(4*time.Hour), metric("scope1_emissions", 2023, 31)))
		require.NoError(t, err)
		assert.Equal(t, 1, w.Metrics)
		assert.InDelta(t, 31.0, value(), 1e-9)
	})

	t.Run("CommitmentsWithoutYearsKeyedByGoal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		recs := records("v0.1.0", t0)
		recs.Commitments = []model.NormalizedCommitment{
			{IndicatorID: "renewable_share", Theme: "Energy", StatementType: model.StatementPolicy, GoalText: "Source renewable power"},
			{IndicatorID: "renewable_share", Theme: "Energy", StatementType: model.StatementPolicy, GoalText: "Install rooftop solar"},
		}
		w, err := s.Persist(ctx, recs)
		require.NoError(t, err)
		assert.Equal(t, 2, w.Commitments)

		rows, err := s.ListCommitments(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, r := range rows {
			assert.Nil(t, r.TargetYear)
			assert.Nil(t, r.BaselineYear)
			assert.Len(t, r.GoalHash, 16)
		}
		assert.NotEqual(t, rows[0].GoalHash, rows[1].GoalHash)
	})

	t.Run("Lineage", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		runs := []model.Lineage{
			{RunID: "r1", BatchID: "b1", CompanyID: "acme", ReportYear: 2023, PDFSource: "acme.pdf", PipelineVersion: "v0.1.0",
				Timestamp: t0, Status: model.LineageOK, Stats: model.LineageStats{Seconds: 10, CostUSD: 0.5, MetricsPersisted: 4},
				Artefacts: []string{"out/acme/pages.md"}},
			{RunID: "r2", BatchID: "b1", CompanyID: "globex", PDFSource: "globex.pdf", PipelineVersion: "v0.1.0",
				Timestamp: t0.Add(time.Minute), Status: model.LineageFailed, Stats: model.LineageStats{Seconds: 2},
				Warnings: []string{"pass1 Water pages [3]"}, Error: "boom", ErrorKind: "permanent"},
			{RunID: "r3", BatchID: "b2", CompanyID: "acme", PDFSource: "acme-2024.pdf", PipelineVersion: "v0.1.0",
				Timestamp: t0.Add(2 * time.Minute), Status: model.LineageCancelled},
		}
		for i := range runs {
			require.NoError(t, s.AppendLineage(ctx, &runs[i]))
		}
		require.Error(t, s.AppendLineage(ctx, &runs[0]))

		got, err := s.GetLineage(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "acme.pdf", got.PDFSource)
		assert.True(t, t0.Equal(got.Timestamp))
		assert.Equal(t, 4, got.Stats.MetricsPersisted)
		assert.Equal(t, []string{"out/acme/pages.md"}, got.Artefacts)
		assert.Nil(t, got.Warnings)

		got, err = s.GetLineage(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, []string{"pass1 Water pages [3]"}, got.Warnings)
		assert.Equal(t, "permanent", got.ErrorKind)

		_, err = s.GetLineage(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := s.ListLineage(ctx, LineageFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "r3", all[0].RunID)

		acme, err := s.ListLineage(ctx, LineageFilter{CompanyID: "acme"})
		require.NoError(t, err)
		assert.Len(t, acme, 2)

		batch, err := s.ListLineage(ctx, LineageFilter{BatchID: "b1", Status: model.LineageFailed})
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, "r2", batch[0].RunID)

		recent, err := s.ListLineage(ctx, LineageFilter{Since: t0.Add(30 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		page, err := s.ListLineage(ctx, LineageFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "r2", page[0].RunID)

		sum, err := s.SummarizeLineage(ctx, LineageFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, sum.Runs)
		assert.Equal(t, 1, sum.ByStatus[model.LineageOK])
		assert.InDelta(t, 12.0, sum.Seconds, 1e-9)
		assert.InDelta(t, 0.5, sum.CostUSD, 1e-9)
		assert.InDelta(t, 0.5, sum.FailureRate(), 1e-9)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpen_Config(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.StoreConfig{Driver: "sqlite"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindConfiguration, resilience.Classify(err))

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql", DatabaseURL: "x"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindConfiguration, resilience.Classify(err))

	s, err := Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
}

func TestVersionKey(t *testing.T) {
	assert.Equal(t, "000000.000010.000000.000000", VersionKey("v0.10.0"))
	assert.Equal(t, "000001.000002.000003.000000", VersionKey("1.2.3-rc1+abc"))
	assert.Equal(t, "000000.000000.000000.000000", VersionKey(""))

	ordered := []string{"v0.1.0", "v0.9.0", "v0.10.0", "v1.0.0", "v1.0.0.1", "v2"}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, VersionKey(ordered[i-1]), VersionKey(ordered[i]), ordered[i])
	}
}

func TestLineageSummary_FailureRate(t *testing.T) {
	assert.Zero(t, (&LineageSummary{}).FailureRate())

	sum := &LineageSummary{Runs: 10, ByStatus: map[model.LineageStatus]int{
		model.LineageOK:        5,
		model.LineageFailed:    3,
		model.LineageCancelled: 2,
	}}
	assert.InDelta(t, 0.375, sum.FailureRate(), 1e-9)

	allCancelled := &LineageSummary{Runs: 2, ByStatus: map[model.LineageStatus]int{model.LineageCancelled: 2}}
	assert.Zero(t, allCancelled.FailureRate())
}

func TestLineageWhere(t *testing.T) {
	where, args := lineageWhere(LineageFilter{}, pgPlaceholder, pgTime)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = lineageWhere(LineageFilter{CompanyID: "acme", Status: model.LineageFailed, Since: t0}, pgPlaceholder, pgTime)
	assert.Equal(t, " WHERE company_id = $1 AND status = $2 AND ts >= $3", where)
	assert.Equal(t, []any{"acme", "failed", t0}, args)

	where, args = lineageWhere(LineageFilter{BatchID: "b1", Since: t0}, sqlitePlaceholder, sqliteTimeArg)
	assert.Equal(t, " WHERE batch_id = ? AND ts >= ?", where)
	assert.Equal(t, []any{"b1", "2024-05-01T12:00:00.000000000Z"}, args)
}

func TestPgx5URL(t *testing.T) {
	u, err := pgx5URL("postgres://user:pw@localhost:5432/esg?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://user:pw@localhost:5432/esg?sslmode=disable", u)

	u, err = pgx5URL("postgresql://localhost/esg")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://localhost/esg", u)

	_, err = pgx5URL("mysql://localhost/esg")
	assert.Error(t, err)
}
