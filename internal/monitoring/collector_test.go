package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/store"
)

// fakeSummarizer records the filter it was asked for.
type fakeSummarizer struct {
	sum    *store.LineageSummary
	err    error
	filter store.LineageFilter
}

func (f *fakeSummarizer) SummarizeLineage(_ context.Context, filter store.LineageFilter) (*store.LineageSummary, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.sum, nil
}

func sampleSummary() *store.LineageSummary {
	return &store.LineageSummary{
		Runs: 12,
		ByStatus: map[model.LineageStatus]int{
			model.LineageOK:        6,
			model.LineageEmpty:     1,
			model.LineageFailed:    3,
			model.LineageCancelled: 2,
		},
		Seconds: 600,
		CostUSD: 4.5,
	}
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	fs := &fakeSummarizer{sum: sampleSummary()}
	c := NewCollector(fs)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-24*time.Hour), fs.filter.Since)
	assert.Empty(t, fs.filter.BatchID)
	assert.Equal(t, 12, snap.Runs)
	assert.Equal(t, 6, snap.OK)
	assert.Equal(t, 3, snap.Failed)
	assert.Equal(t, 2, snap.Cancelled)
	assert.Equal(t, 10, snap.Finished())
	assert.InDelta(t, 0.3, snap.FailRate, 1e-9)
	assert.InDelta(t, 4.5, snap.CostUSD, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_CollectAllTime(t *testing.T) {
	fs := &fakeSummarizer{sum: sampleSummary()}
	_, err := NewCollector(fs).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, fs.filter.Since.IsZero())
}

func TestCollector_CollectBatch(t *testing.T) {
	fs := &fakeSummarizer{sum: sampleSummary()}
	snap, err := NewCollector(fs).CollectBatch(context.Background(), "batch-7")
	require.NoError(t, err)
	assert.Equal(t, "batch-7", fs.filter.BatchID)
	assert.Equal(t, "batch-7", snap.BatchID)
}

func TestCollector_Error(t *testing.T) {
	fs := &fakeSummarizer{err: errors.New("db down")}
	_, err := NewCollector(fs).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: summarize lineage")
}

func TestFromSummary_NoFinishedRuns(t *testing.T) {
	snap := FromSummary(&store.LineageSummary{
		Runs:     2,
		ByStatus: map[model.LineageStatus]int{model.LineageCancelled: 2},
	})
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.Finished())
}
