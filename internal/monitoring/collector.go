// Package monitoring turns lineage rows into failure-rate and cost alerts
// and posts them to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/store"
)

// Snapshot is a point-in-time view of recent runs.
type Snapshot struct {
	Runs      int     `json:"runs"`
	OK        int     `json:"ok"`
	Empty     int     `json:"empty"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	FailRate  float64 `json:"fail_rate"`
	CostUSD   float64 `json:"cost_usd"`
	Seconds   float64 `json:"seconds"`

	// Scope: either a batch or a lookback window.
	BatchID       string    `json:"batch_id,omitempty"`
	LookbackHours int       `json:"lookback_hours,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts runs that reached a verdict; cancelled runs did not.
func (s *Snapshot) Finished() int {
	return s.OK + s.Empty + s.Failed
}

// LineageSummarizer is the slice of store.Store the collector needs.
type LineageSummarizer interface {
	SummarizeLineage(ctx context.Context, filter store.LineageFilter) (*store.LineageSummary, error)
}

// Collector builds snapshots from the lineage log.
type Collector struct {
	store LineageSummarizer
	now   func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st LineageSummarizer) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes runs from the last lookbackHours. Zero means all runs.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	var filter store.LineageFilter
	if lookbackHours > 0 {
		filter.Since = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	snap, err := c.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// CollectBatch summarizes the runs of one batch.
func (c *Collector) CollectBatch(ctx context.Context, batchID string) (*Snapshot, error) {
	snap, err := c.collect(ctx, store.LineageFilter{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	snap.BatchID = batchID
	snap.CollectedAt = c.now().UTC()
	return snap, nil
}

func (c *Collector) collect(ctx context.Context, filter store.LineageFilter) (*Snapshot, error) {
	sum, err := c.store.SummarizeLineage(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summarize lineage")
	}
	return FromSummary(sum), nil
}

// FromSummary converts a lineage summary into a snapshot.
func FromSummary(sum *store.LineageSummary) *Snapshot {
	return &Snapshot{
		Runs:      sum.Runs,
		OK:        sum.ByStatus[model.LineageOK],
		Empty:     sum.ByStatus[model.LineageEmpty],
		Failed:    sum.ByStatus[model.LineageFailed],
		Cancelled: sum.ByStatus[model.LineageCancelled],
		FailRate:  sum.FailureRate(),
		CostUSD:   sum.CostUSD,
		Seconds:   sum.Seconds,
	}
}
