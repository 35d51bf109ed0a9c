package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/catalogue"
	"github.com/sells-group/esg-extract/internal/docstore"
	"github.com/sells-group/esg-extract/internal/export"
	"github.com/sells-group/esg-extract/internal/extract"
	"github.com/sells-group/esg-extract/internal/fetcher"
	"github.com/sells-group/esg-extract/internal/llm"
	"github.com/sells-group/esg-extract/internal/metrics"
	"github.com/sells-group/esg-extract/internal/monitoring"
	"github.com/sells-group/esg-extract/internal/ocr"
	"github.com/sells-group/esg-extract/internal/pipeline"
	"github.com/sells-group/esg-extract/internal/postprocess"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/internal/selector"
	"github.com/sells-group/esg-extract/internal/store"
)

// pipelineEnv holds the initialized stores, clients and the pipeline
// needed by the run and batch commands.
type pipelineEnv struct {
	Store    store.Store
	DocStore docstore.Store // may be nil
	LLM      *llm.Service
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.DocStore != nil {
		_ = pe.DocStore.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// loadCatalogue reads the configured catalogue, or the built-in one.
func loadCatalogue() (*catalogue.Catalogue, error) {
	return catalogue.Load(cfg.Catalogue.Path,
		catalogue.WithFuzzyThreshold(cfg.Catalogue.FuzzyAliasThreshold),
		catalogue.WithFuzzyMargin(cfg.Catalogue.FuzzyMargin),
	)
}

// persistRetry governs store writes; the LLM service has its own policy.
func persistRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error) {
			zap.L().Warn("store: retrying write", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
}

// initPipeline validates the configuration, opens the stores, builds the
// LLM service and assembles the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := loadCatalogue()
	if err != nil {
		return nil, err
	}
	textExtractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}

	svc, err := llm.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	svc.SetObserver(m.Observer())
	if svc.Replaying() {
		zap.L().Info("llm: serving responses from replay tape", zap.String("dir", cfg.LLM.ReplayDir))
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := docstore.Open(ctx, cfg.DocStore, cfg.Redis, storePool(st))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sel := selector.New(cat, selector.Options{
		MinKeywordHits: cfg.Selector.MinKeywordHits,
		YearHorizon:    cfg.Selector.YearHorizon,
	})
	p, err := pipeline.New(pipeline.Deps{
		Loader: pipeline.NewPDFLoader(fetcher.NewSource(cfg.Fetch), textExtractor),
		Extractor: extract.New(cat, sel, svc, extract.Options{
			MaxTokensPerRequest: cfg.Extract.MaxTokensPerRequest,
			MinChunkChars:       cfg.Extract.MinChunkChars,
			Pass1Fanout:         cfg.Extract.Pass1Fanout,
			Pass2MaxTokens:      cfg.LLM.MaxOutputTokens,
		}),
		Postprocessor: postprocess.New(cat, postprocess.Options{YearHorizon: cfg.Selector.YearHorizon}),
		Store:         st,
		DocStore:      docs,
		Artefacts: export.NewWriter(export.Options{
			Dir:      cfg.Pipeline.OutputDir,
			CSV:      cfg.Pipeline.WriteCSV,
			XLSX:     cfg.Pipeline.WriteXLSX,
			Markdown: cfg.Pipeline.WriteMarkdown,
			JSON:     cfg.Pipeline.WriteJSON,
		}),
		Metrics: m,
		Alerter: monitoring.NewAlerter(cfg.Monitoring),
	}, pipeline.Options{
		Version:      cfg.Pipeline.Version,
		Parallelism:  cfg.Batch.Parallelism,
		PersistRetry: persistRetry(),
	})
	if err != nil {
		if docs != nil {
			_ = docs.Close()
		}
		_ = st.Close()
		return nil, eris.Wrap(err, "build pipeline")
	}

	zap.L().Info("pipeline ready",
		zap.String("version", cfg.Pipeline.Version),
		zap.String("catalogue", cat.Version()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", svc.Model()),
		zap.String("store", cfg.Store.Driver),
		zap.String("docstore", cfg.DocStore.Driver),
	)

	return &pipelineEnv{
		Store:    st,
		DocStore: docs,
		LLM:      svc,
		Metrics:  m,
		Pipeline: p,
	}, nil
}

// serveMetrics exposes /metrics and /healthz in the background when
// metrics.addr is set. It stops with ctx.
func serveMetrics(ctx context.Context, env *pipelineEnv) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := env.Metrics.Serve(ctx, cfg.Metrics.Addr, env.Store); err != nil {
			zap.L().Error("metrics server stopped", zap.Error(err))
		}
	}()
}
