package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/esg-extract/internal/config"
	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/pkg/anthropic"
)

// CallObserver is told about every provider call, replayed or not.
type CallObserver func(tag string, elapsed time.Duration, resp *Response, err error)

// Options configure a Service.
type Options struct {
	Provider string
	Model    string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration

	// RPM and TPM are shared by every caller of the Service. Zero disables
	// the limit.
	RPM int
	TPM int

	RecordDir string
	ReplayDir string

	Calculator *cost.Calculator
	Observer   CallObserver
}

// Service wraps a provider with the central limiter, retry policy, circuit
// breaker and record/replay. One Service is shared by all workers.
type Service struct {
	provider Completer
	opts     Options
	rpm      *rate.Limiter
	tpm      *rate.Limiter
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	record   *Tape
	replay   *Tape
}

// NewService wraps provider. In replay mode provider may be nil.
func NewService(provider Completer, opts Options) (*Service, error) {
	if provider == nil && opts.ReplayDir == "" {
		return nil, resilience.NewConfigError(eris.New("llm: no provider configured"))
	}

	s := &Service{
		provider: provider,
		opts:     opts,
		rpm:      rate.NewLimiter(rate.Inf, 1),
		tpm:      rate.NewLimiter(rate.Inf, 1),
	}
	if opts.RPM > 0 {
		rps := float64(opts.RPM) / 60
		s.rpm = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	if opts.TPM > 0 {
		s.tpm = rate.NewLimiter(rate.Limit(float64(opts.TPM)/60), opts.TPM)
	}

	s.retry = resilience.RetryPolicy(opts.MaxRetries, opts.BackoffBase, opts.BackoffMax)
	s.retry.OnRetry = resilience.RetryLogger("llm", opts.Provider)

	bcfg := resilience.BreakerPolicy(opts.BreakerThreshold, opts.BreakerReset)
	bcfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("llm: circuit breaker state change",
			zap.String("provider", opts.Provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	s.breaker = resilience.NewCircuitBreaker(bcfg)

	if opts.RecordDir != "" {
		s.record = &Tape{Dir: opts.RecordDir}
	}
	if opts.ReplayDir != "" {
		s.replay = &Tape{Dir: opts.ReplayDir}
	}
	return s, nil
}

// FromConfig builds the provider named by cfg.LLM.Provider and wraps it.
// With a replay directory no provider client is created.
func FromConfig(cfg *config.Config) (*Service, error) {
	popts := ProviderOptions{
		Model:           cfg.LLM.Model,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Temperature:     cfg.LLM.Temperature,
	}
	timeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second

	var provider Completer
	if cfg.LLM.ReplayDir == "" {
		switch cfg.LLM.Provider {
		case cost.ProviderAnthropic:
			client := anthropic.NewClient(cfg.Anthropic.Key, anthropic.Options{BaseURL: cfg.Anthropic.BaseURL})
			provider = NewAnthropic(client, popts, cfg.Anthropic.CacheSystem)
		case cost.ProviderOpenAI:
			provider = NewOpenAI(cfg.OpenAI.Key, cfg.OpenAI.BaseURL, popts)
		default:
			return nil, resilience.NewConfigError(eris.Errorf("llm: unknown provider %q", cfg.LLM.Provider))
		}
	}

	return NewService(provider, Options{
		Provider:         cfg.LLM.Provider,
		Model:            cfg.LLM.Model,
		Timeout:          timeout,
		MaxRetries:       cfg.LLM.MaxRetries,
		BackoffBase:      time.Duration(cfg.LLM.BackoffBaseMs) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.LLM.BackoffMaxMs) * time.Millisecond,
		BreakerThreshold: cfg.LLM.BreakerThreshold,
		BreakerReset:     time.Duration(cfg.LLM.BreakerResetSecs) * time.Second,
		RPM:              cfg.LLM.RPM,
		TPM:              cfg.LLM.TPM,
		RecordDir:        cfg.LLM.RecordDir,
		ReplayDir:        cfg.LLM.ReplayDir,
		Calculator:       cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing)),
	})
}

// SetObserver installs the per-call hook. Call it before the Service is
// shared.
func (s *Service) SetObserver(o CallObserver) {
	s.opts.Observer = o
}

// Model returns the configured model name.
func (s *Service) Model() string { return s.opts.Model }

// Replaying reports whether responses come from the replay directory.
func (s *Service) Replaying() bool { return s.replay != nil }

// Complete sends req through the limiter, retry policy and breaker. In
// replay mode it answers from the tape and never touches the network.
func (s *Service) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := s.complete(ctx, req)
	if s.opts.Observer != nil {
		s.opts.Observer(req.Tag, time.Since(start), resp, err)
	}
	return resp, err
}

func (s *Service) complete(ctx context.Context, req Request) (*Response, error) {
	key := Key(s.opts.Model, req)

	if s.replay != nil {
		rec, err := s.replay.Load(key)
		if err != nil {
			return nil, err
		}
		return &Response{
			Text:     rec.Text,
			Model:    rec.Model,
			Usage:    rec.Usage,
			CostUSD:  s.cost(rec.Model, rec.Usage),
			Replayed: true,
		}, nil
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*Response, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*Response, error) {
			return s.attempt(ctx, req)
		})
	})
	if err != nil {
		zap.L().Debug("llm: call failed",
			zap.String("tag", req.Tag),
			zap.String("kind", string(resilience.Classify(err))),
			zap.Error(err),
		)
		return nil, err
	}
	resp.CostUSD = s.cost(resp.Model, resp.Usage)

	if s.record != nil {
		rec := Recording{Key: key, Tag: req.Tag, Model: resp.Model, Text: resp.Text, Usage: resp.Usage}
		if err := s.record.Save(rec); err != nil {
			zap.L().Warn("llm: record response", zap.String("key", key), zap.Error(err))
		}
	}
	return resp, nil
}

// attempt waits for both budgets and makes one provider call.
func (s *Service) attempt(ctx context.Context, req Request) (*Response, error) {
	if err := s.rpm.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llm: wait for request budget")
	}
	if err := s.tpm.WaitN(ctx, s.tokenCost(req)); err != nil {
		return nil, eris.Wrap(err, "llm: wait for token budget")
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.provider.Complete(callCtx, req)
}

// tokenCost is the estimated input size, clamped to the limiter burst so a
// single oversized request waits for a full bucket instead of failing.
func (s *Service) tokenCost(req Request) int {
	n := EstimateTokens(req.System) + EstimateTokens(req.Prompt)
	if b := s.tpm.Burst(); n > b && s.tpm.Limit() != rate.Inf {
		n = b
	}
	return max(n, 1)
}

func (s *Service) cost(model string, u cost.Usage) float64 {
	if s.opts.Calculator == nil {
		return 0
	}
	return s.opts.Calculator.Tokens(s.opts.Provider, model, u)
}
