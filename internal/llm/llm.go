// Package llm is the provider-neutral completion layer. Extraction talks to
// a Completer; the Service in front of the providers owns rate limits,
// retries, the circuit breaker and record/replay.
package llm

import (
	"context"

	"github.com/sells-group/esg-extract/internal/cost"
)

// Request is one system + user exchange.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int

	// Tag labels the call in logs and metrics, e.g. "pass1:Emissions".
	Tag string
}

// Response is the single text answer of a completion.
type Response struct {
	Text     string
	Model    string
	Usage    cost.Usage
	CostUSD  float64
	Replayed bool
}

// Completer turns a Request into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ProviderOptions are the generation settings shared by both providers.
type ProviderOptions struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
}

func (o ProviderOptions) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if o.MaxOutputTokens > 0 {
		return o.MaxOutputTokens
	}
	return 4096
}

// EstimateTokens approximates the token count of s as ceil(len/4).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
