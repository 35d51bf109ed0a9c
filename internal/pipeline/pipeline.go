// Package pipeline runs PDFs through selection, the two extraction passes,
// normalization and persistence, one lineage row per PDF.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/docstore"
	"github.com/sells-group/esg-extract/internal/export"
	"github.com/sells-group/esg-extract/internal/extract"
	"github.com/sells-group/esg-extract/internal/metrics"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/postprocess"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/internal/store"
)

// Lineage warnings raised by the pipeline itself.
const (
	WarnNoPages      = "no relevant pages"
	WarnNoCandidates = "no candidates"
	WarnAllRejected  = "all candidates rejected"
)

// Deps are the collaborators of a Pipeline. Loader, Extractor,
// Postprocessor and Store are required; the rest may be nil.
type Deps struct {
	Loader        Loader
	Extractor     extract.Extractor
	Postprocessor *postprocess.Postprocessor
	Store         store.Store
	DocStore      docstore.Store
	Artefacts     *export.Writer
	Metrics       *metrics.Metrics
	Alerter       *monitoring.Alerter
}

// Options tune a Pipeline.
type Options struct {
	Version     string
	Parallelism int
	// PersistRetry governs retries of store writes on transient errors.
	PersistRetry resilience.RetryConfig

	Now   func() time.Time
	NewID func() string
}

// Pipeline is safe for concurrent use; every PDF gets its own RunContext.
type Pipeline struct {
	deps Deps
	opts Options
}

// New validates deps and fills option defaults.
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Loader == nil:
		return nil, resilience.NewConfigError(eris.New("pipeline: loader is required"))
	case deps.Extractor == nil:
		return nil, resilience.NewConfigError(eris.New("pipeline: extractor is required"))
	case deps.Postprocessor == nil:
		return nil, resilience.NewConfigError(eris.New("pipeline: postprocessor is required"))
	case deps.Store == nil:
		return nil, resilience.NewConfigError(eris.New("pipeline: store is required"))
	case opts.Version == "":
		return nil, resilience.NewConfigError(eris.New("pipeline: version is required"))
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Pipeline{deps: deps, opts: opts}, nil
}

// RunContext identifies one PDF run.
type RunContext struct {
	RunID   string
	BatchID string
	Report  model.Report
	Version string
	Started time.Time
}

func (p *Pipeline) runContext(report model.Report, batchID string) RunContext {
	return RunContext{
		RunID:   p.opts.NewID(),
		BatchID: batchID,
		Report:  report,
		Version: p.opts.Version,
		Started: p.opts.Now().UTC(),
	}
}

// Result is the outcome of one PDF.
type Result struct {
	Lineage    model.Lineage     `json:"lineage"`
	Normalized *model.Normalized `json:"normalized,omitempty"`
	Written    store.Written     `json:"written"`

	// Err is the error that ended the run, if any.
	Err error `json:"-"`
	// LineageErr is set when the lineage row could not be written.
	LineageErr error `json:"-"`
}

// Run processes a single PDF outside any batch. Per-PDF failures are
// reported in the result, never returned.
func (p *Pipeline) Run(ctx context.Context, report model.Report) *Result {
	return p.run(ctx, p.runContext(report, ""))
}

func (p *Pipeline) run(ctx context.Context, rc RunContext) *Result {
	log := zap.L().With(
		zap.String("run_id", rc.RunID),
		zap.String("company", rc.Report.CompanyID),
		zap.String("pdf", rc.Report.Source),
	)
	res := &Result{Lineage: model.Lineage{
		RunID:           rc.RunID,
		BatchID:         rc.BatchID,
		CompanyID:       rc.Report.CompanyID,
		ReportYear:      rc.Report.ReportYear,
		PDFSource:       rc.Report.Source,
		PipelineVersion: rc.Version,
		Timestamp:       rc.Started,
	}}
	bundle := &export.Bundle{RunID: rc.RunID, Report: rc.Report}

	status, err := p.process(ctx, rc, res, bundle, log)
	p.finish(ctx, rc, res, bundle, status, err, log)
	return res
}

// process walks one PDF through the stages. Nothing is written before the
// persist step, and nothing after it fails.
func (p *Pipeline) process(ctx context.Context, rc RunContext, res *Result, bundle *export.Bundle, log *zap.Logger) (model.LineageStatus, error) {
	l := &res.Lineage
	if err := ctx.Err(); err != nil {
		return model.LineageCancelled, err
	}

	var doc *model.Document
	if err := p.phase(log, "load", func() error {
		var err error
		doc, err = p.deps.Loader.Load(ctx, rc.Report)
		return err
	}); err != nil {
		return failure(err)
	}
	l.Stats.PagesScanned = doc.PageCount()
	bundle.PageCount = doc.PageCount()

	pages := p.deps.Extractor.SelectPages(doc)
	l.Stats.PagesSelected = len(pages)
	bundle.Pages = pages
	if len(pages) == 0 {
		l.AddWarning(WarnNoPages)
		return model.LineageEmpty, nil
	}

	var ext *extract.Result
	err := p.phase(log, "extract", func() error {
		var err error
		ext, err = p.deps.Extractor.Extract(ctx, pages)
		return err
	})
	if ext != nil {
		recordExtraction(l, bundle, ext, log)
	}
	if err != nil {
		return failure(err)
	}
	l.Stats.CandidatesEmitted = len(ext.Candidates)
	if len(ext.Candidates) == 0 {
		l.AddWarning(WarnNoCandidates)
		return model.LineageEmpty, nil
	}

	var n model.Normalized
	_ = p.phase(log, "normalize", func() error {
		n = p.deps.Postprocessor.ProcessAll(ext.Candidates, postprocess.Input{
			ReportYear: rc.Report.ReportYear,
			PageCount:  doc.PageCount(),
			Pages:      doc.PageTexts(),
		})
		return nil
	})
	res.Normalized = &n
	bundle.Normalized = &n
	l.Stats.CandidatesAccepted = len(n.Metrics) + len(n.Commitments)
	l.Stats.CandidatesRejected = len(n.Rejections)
	l.Stats.ValidationWarnings = n.Warnings()
	for _, r := range n.Rejections {
		if r.Unresolved {
			l.AddWarning(r.Reason)
		}
	}
	if n.Empty() {
		l.AddWarning(WarnAllRejected)
		return model.LineageEmpty, nil
	}

	if err := ctx.Err(); err != nil {
		return model.LineageCancelled, err
	}

	recs := &store.Records{
		CompanyID:       rc.Report.CompanyID,
		RunID:           rc.RunID,
		PipelineVersion: rc.Version,
		IngestedAt:      p.opts.Now().UTC(),
		Metrics:         n.Metrics,
		Commitments:     n.Commitments,
	}
	var written store.Written
	if err := p.phase(log, "persist", func() error {
		var err error
		written, err = resilience.DoVal(ctx, p.opts.PersistRetry, func(ctx context.Context) (store.Written, error) {
			return p.deps.Store.Persist(ctx, recs)
		})
		return err
	}); err != nil {
		return failure(err)
	}
	res.Written = written
	l.Stats.MetricsPersisted = written.Metrics
	l.Stats.CommitmentsPersisted = written.Commitments
	return model.LineageOK, nil
}

func recordExtraction(l *model.Lineage, bundle *export.Bundle, ext *extract.Result, log *zap.Logger) {
	l.Stats.ChunksSent = ext.ChunksSent
	l.Stats.ChunksFailed = ext.ChunksFailed
	l.Stats.InputTokens = ext.Usage.InputTokens
	l.Stats.OutputTokens = ext.Usage.OutputTokens
	l.Stats.CostUSD = ext.CostUSD
	for _, w := range ext.Warnings {
		l.AddWarning(w)
	}
	if len(ext.Pass1) > 0 {
		if b, err := ext.Pass1.JSON(); err == nil {
			bundle.Pass1 = b
		} else {
			log.Warn("pipeline: render pass1", zap.Error(err))
		}
	}
	if ext.Pass2 != nil {
		if b, err := ext.MarshalPass2(); err == nil {
			bundle.Pass2 = b
		} else {
			log.Warn("pipeline: render pass2", zap.Error(err))
		}
	}
}

// failure maps a stage error onto a lineage status.
func failure(err error) (model.LineageStatus, error) {
	switch resilience.Classify(err) {
	case resilience.KindCancelled:
		return model.LineageCancelled, err
	case resilience.KindExtractionQuality:
		return model.LineageEmpty, err
	default:
		return model.LineageFailed, err
	}
}

// finish runs the post-commit steps and appends the lineage row. These
// steps ignore cancellation so a cancelled run still leaves its record.
func (p *Pipeline) finish(ctx context.Context, rc RunContext, res *Result, bundle *export.Bundle, status model.LineageStatus, err error, log *zap.Logger) {
	l := &res.Lineage
	l.Status = status
	if err != nil {
		res.Err = err
		l.Error = err.Error()
		l.ErrorKind = string(resilience.Classify(err))
	}
	bg := context.WithoutCancel(ctx)

	if status == model.LineageOK && p.deps.DocStore != nil {
		doc := &docstore.Document{
			CompanyID:       rc.Report.CompanyID,
			CompanyName:     rc.Report.CompanyName,
			ReportYear:      rc.Report.ReportYear,
			RunID:           rc.RunID,
			PipelineVersion: rc.Version,
			Metrics:         res.Normalized.Metrics,
			Commitments:     res.Normalized.Commitments,
		}
		if derr := p.deps.DocStore.Put(bg, doc); derr != nil {
			log.Warn("pipeline: docstore put failed", zap.Error(derr))
			l.AddWarning("docstore: " + derr.Error())
		}
	}

	// A cancelled run keeps no Pass-1/Pass-2 state, artefacts included.
	if status != model.LineageCancelled {
		paths, aerr := p.deps.Artefacts.Write(bundle)
		l.Artefacts = paths
		if aerr != nil {
			log.Warn("pipeline: write artefacts failed", zap.Error(aerr))
			l.AddWarning("artefacts: " + aerr.Error())
		}
	}

	l.Stats.Seconds = p.opts.Now().Sub(rc.Started).Seconds()
	if lerr := resilience.Do(bg, p.opts.PersistRetry, func(ctx context.Context) error {
		return p.deps.Store.AppendLineage(ctx, l)
	}); lerr != nil {
		res.LineageErr = lerr
		log.Error("pipeline: append lineage failed", zap.Error(lerr))
	}
	p.deps.Metrics.ObserveRun(l)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Float64("seconds", l.Stats.Seconds),
		zap.Int("pages_selected", l.Stats.PagesSelected),
		zap.Int("candidates", l.Stats.CandidatesEmitted),
		zap.Int("metrics", l.Stats.MetricsPersisted),
		zap.Int("commitments", l.Stats.CommitmentsPersisted),
		zap.Float64("cost_usd", l.Stats.CostUSD),
	}
	switch status {
	case model.LineageFailed:
		log.Error("pipeline: run failed", append(fields, zap.Error(err))...)
	case model.LineageCancelled:
		log.Warn("pipeline: run cancelled", fields...)
	default:
		log.Info("pipeline: run finished", fields...)
	}
}

// phase runs fn and logs its duration.
func (p *Pipeline) phase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Warn("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.String("status", "failed"),
			zap.Error(err),
		)
		return err
	}
	log.Debug("pipeline: phase complete",
		zap.String("phase", name),
		zap.Int64("duration_ms", duration),
		zap.String("status", "complete"),
	)
	return nil
}
