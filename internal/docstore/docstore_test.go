package docstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

var now = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func sampleDoc() *Document {
	return &Document{
		CompanyID:       "acme",
		CompanyName:     "Acme Corp",
		ReportYear:      2023,
		RunID:           "run-1",
		PipelineVersion: "v0.1.0",
		Metrics: []model.NormalizedMetric{{
			IndicatorID: "scope1_emissions", Theme: "Emissions", ReportYear: 2023, IndicatorYear: 2023,
			ValueNumeric: model.FloatPtr(1234567), Unit: "tCO2e", PageRefs: []int{4},
		}},
	}
}

// fakeRedis is an in-memory redisClient.
type fakeRedis struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisStore_PutGet(t *testing.T) {
	rdb := newFakeRedis()
	s := NewRedis(rdb, 48*time.Hour)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleDoc()))
	assert.Equal(t, 48*time.Hour, rdb.ttls["esg:doc:acme:2023"])

	got, err := s.Get(ctx, "acme", 2023)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.CompanyName)
	assert.True(t, now.Equal(got.UpdatedAt))
	require.Len(t, got.Metrics, 1)
	assert.InDelta(t, 1234567.0, *got.Metrics[0].ValueNumeric, 1e-9)
	assert.NotNil(t, got.Commitments)
	assert.Empty(t, got.Commitments)
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := NewRedis(newFakeRedis(), 0)
	_, err := s.Get(context.Background(), "acme", 2019)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Overwrite(t *testing.T) {
	s := NewRedis(newFakeRedis(), 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleDoc()))
	doc := sampleDoc()
	doc.RunID = "run-2"
	doc.Metrics = nil
	require.NoError(t, s.Put(ctx, doc))

	got, err := s.Get(ctx, "acme", 2023)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Empty(t, got.Metrics)
}

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgres(mock, 24*time.Hour)
	s.now = func() time.Time { return now }
	return s, mock
}

func TestPostgresStore_Put(t *testing.T) {
	s, mock := newMockPostgres(t)

	expires := now.Add(24 * time.Hour)
	mock.ExpectExec(`INSERT INTO report_documents .* ON CONFLICT \(company_id, report_year\) DO UPDATE`).
		WithArgs("acme", 2023, "run-1", pgxmock.AnyArg(), now, &expires).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), sampleDoc()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgres(t)

	data, err := json.Marshal(sampleDoc())
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT document FROM report_documents`).
		WithArgs("acme", 2023).
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(data))

	got, err := s.Get(context.Background(), "acme", 2023)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Metrics, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT document FROM report_documents`).
		WithArgs("acme", 2010).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "acme", 2010)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DocStoreConfig{}, config.RedisConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, config.DocStoreConfig{Driver: "postgres"}, config.RedisConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindConfiguration, resilience.Classify(err))

	_, err = Open(ctx, config.DocStoreConfig{Driver: "mongo"}, config.RedisConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindConfiguration, resilience.Classify(err))
}
