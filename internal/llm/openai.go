package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/esg-extract/internal/cost"
	"github.com/sells-group/esg-extract/internal/resilience"
)

type openAIProvider struct {
	client *openai.Client
	opts   ProviderOptions
}

// NewOpenAI returns a Completer for any OpenAI-compatible chat completions
// endpoint. An empty baseURL keeps the OpenAI default.
func NewOpenAI(apiKey, baseURL string, opts ProviderOptions) Completer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIProvider{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    messages,
		MaxTokens:   p.opts.maxTokens(req),
		Temperature: float32(p.opts.Temperature),
	})
	if err != nil {
		return nil, resilience.FromHTTPStatus(eris.Wrap(err, "llm: openai chat completion"), openAIStatus(err))
	}
	if len(resp.Choices) == 0 {
		return nil, resilience.NewQualityError(eris.New("llm: openai returned no choices"))
	}

	model := resp.Model
	if model == "" {
		model = p.opts.Model
	}
	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: cost.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
