package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "metrics",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "metrics",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "metrics",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_InTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "metrics",
		Columns:      []string{"id", "value", "version"},
		ConflictKeys: []string{"id"},
		Where:        "EXCLUDED.version > t.version",
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_metrics" (LIKE "metrics" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_metrics"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "metrics" AS t ("id", "value", "version") SELECT "id", "value", "version" FROM "_tmp_upsert_metrics" ON CONFLICT ("id") DO UPDATE SET "value" = EXCLUDED."value", "version" = EXCLUDED."version" WHERE EXCLUDED.version > t.version`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	var n int64
	err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
		var err error
		n, err = BulkUpsert(context.Background(), tx, cfg, [][]any{{1, 2.5, "v1"}, {2, 3.5, "v1"}})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{Table: "metrics", Columns: []string{"id"}, ConflictKeys: []string{"id"}}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_metrics"}, cfg.Columns).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err = InTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := BulkUpsert(context.Background(), tx, cfg, [][]any{{1}})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for metrics")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "esg.commitments",
		Columns:      []string{"a", "b", "c"},
		ConflictKeys: []string{"a"},
		UpdateCols:   []string{"c"},
	}, "tmp")
	assert.Equal(t, `INSERT INTO "esg"."commitments" AS t ("a", "b", "c") SELECT "a", "b", "c" FROM "tmp" ON CONFLICT ("a") DO UPDATE SET "c" = EXCLUDED."c"`, sql)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"esg.metrics", `"esg"."metrics"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
