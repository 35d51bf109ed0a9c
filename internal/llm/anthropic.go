package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/resilience"
	"github.com/sells-group/esg-extract/pkg/anthropic"
)

type anthropicProvider struct {
	client      anthropic.Client
	opts        ProviderOptions
	cacheSystem bool
}

// NewAnthropic returns a Completer backed by the Messages API. With
// cacheSystem the system prompt is sent as an ephemeral cached block.
func NewAnthropic(client anthropic.Client, opts ProviderOptions, cacheSystem bool) Completer {
	return &anthropicProvider{client: client, opts: opts, cacheSystem: cacheSystem}
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	temp := p.opts.Temperature
	msg := anthropic.MessageRequest{
		Model:       p.opts.Model,
		MaxTokens:   int64(p.opts.maxTokens(req)),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	}
	switch {
	case req.System == "":
	case p.cacheSystem:
		msg.System = anthropic.BuildCachedSystemBlocks(req.System)
	default:
		msg.System = []anthropic.SystemBlock{{Text: req.System}}
	}

	resp, err := p.client.CreateMessage(ctx, msg)
	if err != nil {
		return nil, resilience.FromHTTPStatus(eris.Wrap(err, "llm: anthropic message"), anthropic.StatusCode(err))
	}

	model := resp.Model
	if model == "" {
		model = p.opts.Model
	}
	return &Response{
		Text:  resp.Text(),
		Model: model,
		Usage: cost.Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		},
	}, nil
}
