package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
)

// Summary is the user-visible outcome of a batch.
type Summary struct {
	BatchID     string             `json:"batch_id"`
	Attempted   int                `json:"attempted"`
	Persisted   int                `json:"persisted"`
	Empty       int                `json:"empty"`
	Failed      int                `json:"failed"`
	Cancelled   int                `json:"cancelled"`
	Warnings    int                `json:"validation_warnings"`
	Rejections  int                `json:"rejections"`
	Metrics     int                `json:"metrics_persisted"`
	Commitments int                `json:"commitments_persisted"`
	CostUSD     float64            `json:"cost_usd"`
	Seconds     float64            `json:"seconds"`
	Alerts      []monitoring.Alert `json:"alerts,omitempty"`

	// Results are in input order.
	Results []*Result `json:"-"`
}

func (s *Summary) add(r *Result) {
	l := &r.Lineage
	s.Attempted++
	switch l.Status {
	case model.LineageOK:
		s.Persisted++
	case model.LineageEmpty:
		s.Empty++
	case model.LineageFailed:
		s.Failed++
	case model.LineageCancelled:
		s.Cancelled++
	}
	s.Warnings += l.Stats.ValidationWarnings
	s.Rejections += l.Stats.CandidatesRejected
	s.Metrics += l.Stats.MetricsPersisted
	s.Commitments += l.Stats.CommitmentsPersisted
	s.CostUSD += l.Stats.CostUSD
}

// FailureRate is failed PDFs over PDFs that reached a verdict.
func (s *Summary) FailureRate() float64 {
	finished := s.Attempted - s.Cancelled
	if finished <= 0 {
		return 0
	}
	return float64(s.Failed) / float64(finished)
}

// Snapshot converts the summary for the alerter.
func (s *Summary) Snapshot() *monitoring.Snapshot {
	return &monitoring.Snapshot{
		Runs:        s.Attempted,
		OK:          s.Persisted,
		Empty:       s.Empty,
		Failed:      s.Failed,
		Cancelled:   s.Cancelled,
		FailRate:    s.FailureRate(),
		CostUSD:     s.CostUSD,
		Seconds:     s.Seconds,
		BatchID:     s.BatchID,
		CollectedAt: time.Now().UTC(),
	}
}

// RunBatch processes reports on a bounded worker pool. One PDF's failure
// never stops the others. Once ctx is cancelled the remaining PDFs are
// recorded as cancelled without doing any work.
func (p *Pipeline) RunBatch(ctx context.Context, reports []model.Report) *Summary {
	sum := &Summary{BatchID: p.opts.NewID()}
	log := zap.L().With(zap.String("batch_id", sum.BatchID))
	if len(reports) == 0 {
		log.Info("pipeline: no reports to process")
		return sum
	}

	log.Info("pipeline: processing batch",
		zap.Int("reports", len(reports)),
		zap.Int("parallelism", p.opts.Parallelism),
	)
	start := time.Now()

	results := make([]*Result, len(reports))
	var g errgroup.Group
	g.SetLimit(p.opts.Parallelism)
	for i, report := range reports {
		g.Go(func() error {
			p.deps.Metrics.WorkerStarted()
			defer p.deps.Metrics.WorkerDone()
			results[i] = p.run(ctx, p.runContext(report, sum.BatchID))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		sum.add(r)
	}
	sum.Results = results
	sum.Seconds = time.Since(start).Seconds()
	p.deps.Metrics.SetBatchFailureRate(sum.FailureRate())

	if p.deps.Alerter != nil {
		sum.Alerts = p.deps.Alerter.Dispatch(context.WithoutCancel(ctx), sum.Snapshot())
	}

	log.Info("pipeline: batch complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("persisted", sum.Persisted),
		zap.Int("empty", sum.Empty),
		zap.Int("failed", sum.Failed),
		zap.Int("cancelled", sum.Cancelled),
		zap.Int("validation_warnings", sum.Warnings),
		zap.Int("rejections", sum.Rejections),
		zap.Float64("cost_usd", sum.CostUSD),
		zap.Float64("seconds", sum.Seconds),
	)
	return sum
}
