package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/esg-extract/internal/config"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"llama": {Input: 0.50, Output: 1.00},
		},
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name     string
		provider string
		model    string
		usage    Usage
		want     float64
	}{
		{
			name:     "haiku simple",
			provider: ProviderAnthropic, model: "haiku",
			usage: Usage{InputTokens: 1000000, OutputTokens: 100000},
			want:  0.80 + 0.40,
		},
		{
			name:     "haiku with cache",
			provider: ProviderAnthropic, model: "haiku",
			usage: Usage{InputTokens: 500000, OutputTokens: 50000, CacheWriteTokens: 200000, CacheReadTokens: 300000},
			// in 0.40, out 0.20, cache write 0.20, cache read 0.024
			want: 0.824,
		},
		{
			name:     "sonnet",
			provider: ProviderAnthropic, model: "sonnet",
			usage: Usage{InputTokens: 1000000, OutputTokens: 1000000},
			want:  18.00,
		},
		{
			name:     "openai compatible",
			provider: ProviderOpenAI, model: "llama",
			usage: Usage{InputTokens: 2000000, OutputTokens: 1000000},
			want:  2.00,
		},
		{
			name:     "unknown model",
			provider: ProviderAnthropic, model: "unknown",
			usage: Usage{InputTokens: 1000000},
			want:  0,
		},
		{
			name:     "unknown provider",
			provider: "mistral", model: "haiku",
			usage: Usage{InputTokens: 1000000},
			want:  0,
		},
		{
			name:     "zero tokens",
			provider: ProviderAnthropic, model: "haiku",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Tokens(tt.provider, tt.model, tt.usage)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestUsage_Add(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 2, CacheReadTokens: 5})
	u.Add(Usage{InputTokens: 1, OutputTokens: 1, CacheWriteTokens: 7})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 3, CacheWriteTokens: 7, CacheReadTokens: 5}, u)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	for _, model := range []string{"claude-haiku-4-5-20251001", "claude-sonnet-4-5-20250929", "claude-opus-4-6"} {
		r, ok := rates.Anthropic[model]
		assert.True(t, ok, model)
		assert.Positive(t, r.Input)
		assert.Greater(t, r.Output, r.Input)
	}
	assert.NotEmpty(t, rates.OpenAI)
}

func TestRatesFromConfig(t *testing.T) {
	rates := RatesFromConfig(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-sonnet-4-5-20250929": {Input: 2, Output: 10},
		},
		OpenAI: map[string]config.ModelPricing{
			"custom-model": {Input: 0.1, Output: 0.2},
		},
	})

	assert.Equal(t, 2.0, rates.Anthropic["claude-sonnet-4-5-20250929"].Input)
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")
	assert.Equal(t, 0.2, rates.OpenAI["custom-model"].Output)
	assert.Contains(t, rates.OpenAI, "gpt-4o")
}
