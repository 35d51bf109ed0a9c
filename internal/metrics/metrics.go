// Package metrics exposes pipeline counters and histograms for Prometheus
// and serves them, with a health check, over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/llm"
	"github.com/sells-group/esg-extract/internal/model"
	"github.com/sells-group/esg-extract/internal/resilience"
)

const namespace = "esg_extract"

// Metrics holds the collectors. Create it once per process with New.
type Metrics struct {
	registry *prometheus.Registry

	PDFsTotal      *prometheus.CounterVec
	PDFDuration    prometheus.Histogram
	PagesSelected  prometheus.Histogram
	Candidates     *prometheus.CounterVec
	RowsPersisted  *prometheus.CounterVec
	LLMCalls       *prometheus.CounterVec
	LLMDuration    *prometheus.HistogramVec
	LLMTokens      *prometheus.CounterVec
	LLMCostUSD     prometheus.Counter
	WorkersBusy    prometheus.Gauge
	LastBatchFails prometheus.Gauge
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PDFsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "pdfs_total",
			Help: "PDF runs by final lineage status.",
		}, []string{"status"}),
		PDFDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "pdf_duration_seconds",
			Help:    "Wall time of one PDF run.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		PagesSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "selector", Name: "pages_selected",
			Help:    "Pages kept by the selector per PDF.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "postprocess", Name: "candidates_total",
			Help: "Candidates by outcome (accepted, rejected).",
		}, []string{"outcome"}),
		RowsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "rows_written_total",
			Help: "Rows inserted or replaced, by table.",
		}, []string{"table"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "calls_total",
			Help: "Completion calls by pass and result.",
		}, []string{"pass", "result"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "llm", Name: "call_duration_seconds",
			Help:    "Completion latency including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"pass"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "tokens_total",
			Help: "Tokens by direction (input, output).",
		}, []string{"direction"}),
		LLMCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "cost_usd_total",
			Help: "Estimated completion cost in USD.",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "batch", Name: "workers_busy",
			Help: "Workers currently processing a PDF.",
		}),
		LastBatchFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "batch", Name: "last_failure_rate",
			Help: "Failure rate of the most recent batch.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.PDFsTotal, m.PDFDuration, m.PagesSelected, m.Candidates, m.RowsPersisted,
		m.LLMCalls, m.LLMDuration, m.LLMTokens, m.LLMCostUSD, m.WorkersBusy, m.LastBatchFails,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// passLabel turns a call tag such as "pass1:Water" into "pass1".
func passLabel(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[:i]
	}
	if tag == "" {
		return "other"
	}
	return tag
}

// ObserveCall is an llm.CallObserver.
func (m *Metrics) ObserveCall(tag string, elapsed time.Duration, resp *llm.Response, err error) {
	if m == nil {
		return
	}
	pass := passLabel(tag)
	result := "ok"
	switch {
	case err != nil:
		result = string(resilience.Classify(err))
	case resp != nil && resp.Replayed:
		result = "replayed"
	}
	m.LLMCalls.WithLabelValues(pass, result).Inc()
	m.LLMDuration.WithLabelValues(pass).Observe(elapsed.Seconds())
	if resp != nil {
		m.LLMTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
		m.LLMTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
		m.LLMCostUSD.Add(resp.CostUSD)
	}
}

// Observer returns ObserveCall as an llm.CallObserver, or nil for a nil
// receiver.
func (m *Metrics) Observer() llm.CallObserver {
	if m == nil {
		return nil
	}
	return m.ObserveCall
}

// ObserveRun records the outcome of one PDF run.
func (m *Metrics) ObserveRun(l *model.Lineage) {
	if m == nil {
		return
	}
	m.PDFsTotal.WithLabelValues(string(l.Status)).Inc()
	m.PDFDuration.Observe(l.Stats.Seconds)
	m.PagesSelected.Observe(float64(l.Stats.PagesSelected))
	m.Candidates.WithLabelValues("accepted").Add(float64(l.Stats.CandidatesAccepted))
	m.Candidates.WithLabelValues("rejected").Add(float64(l.Stats.CandidatesRejected))
	m.RowsPersisted.WithLabelValues("metrics").Add(float64(l.Stats.MetricsPersisted))
	m.RowsPersisted.WithLabelValues("commitments").Add(float64(l.Stats.CommitmentsPersisted))
}

// WorkerStarted and WorkerDone track busy workers.
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersBusy.Inc()
	}
}

func (m *Metrics) WorkerDone() {
	if m != nil {
		m.WorkersBusy.Dec()
	}
}

// SetBatchFailureRate records the failure rate of a finished batch.
func (m *Metrics) SetBatchFailureRate(rate float64) {
	if m != nil {
		m.LastBatchFails.Set(rate)
	}
}

// Pinger is anything the health check can ping, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router(deps ...Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.Ping(ctx); err != nil {
				http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics server on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, deps ...Pinger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(deps...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("metrics: listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "metrics: listen")
	}
	return nil
}
