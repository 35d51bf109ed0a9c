package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/esg-extract/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	DocStore   DocStoreConfig   `yaml:"docstore" mapstructure:"docstore"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Catalogue  CatalogueConfig  `yaml:"catalogue" mapstructure:"catalogue"`
	Selector   SelectorConfig   `yaml:"selector" mapstructure:"selector"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the relational backend. For sqlite, DatabaseURL is
// a file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// DocStoreConfig selects the optional document store. An empty driver
// disables it.
type DocStoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=postgres redis"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours" validate:"gte=0"`
}

// RedisConfig holds the redis connection used by the redis document store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// LLMConfig holds the provider-neutral completion settings.
type LLMConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic openai"`
	Model            string  `yaml:"model" mapstructure:"model" validate:"required"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	BackoffBaseMs    int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms" validate:"gt=0"`
	BackoffMaxMs     int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms" validate:"gtefield=BackoffBaseMs"`
	RPM              int     `yaml:"rpm" mapstructure:"rpm" validate:"gte=0"`
	TPM              int     `yaml:"tpm" mapstructure:"tpm" validate:"gte=0"`
	MaxOutputTokens  int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens" validate:"gt=0"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gte=0"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs" validate:"gte=0"`
	RecordDir        string  `yaml:"record_dir" mapstructure:"record_dir"`
	ReplayDir        string  `yaml:"replay_dir" mapstructure:"replay_dir"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	CacheSystem bool   `yaml:"cache_system" mapstructure:"cache_system"`
}

// OpenAIConfig holds settings for any OpenAI-compatible chat endpoint
// (OpenAI, Groq, a local gateway).
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ExtractConfig controls Pass 1 chunking and fan-out.
type ExtractConfig struct {
	MaxTokensPerRequest int `yaml:"max_tokens_per_request" mapstructure:"max_tokens_per_request" validate:"gt=0"`
	MinChunkChars       int `yaml:"min_chunk_chars" mapstructure:"min_chunk_chars" validate:"gte=0"`
	Pass1Fanout         int `yaml:"pass1_fanout" mapstructure:"pass1_fanout" validate:"gt=0"`
}

// CatalogueConfig locates the indicator catalogue. An empty path uses the
// built-in catalogue.
type CatalogueConfig struct {
	Path                string  `yaml:"path" mapstructure:"path"`
	FuzzyAliasThreshold float64 `yaml:"fuzzy_alias_threshold" mapstructure:"fuzzy_alias_threshold" validate:"gt=0,lte=1"`
	FuzzyMargin         float64 `yaml:"fuzzy_margin" mapstructure:"fuzzy_margin" validate:"gte=0,lt=1"`
}

// SelectorConfig overrides page selection. Zero keeps the per-theme value.
type SelectorConfig struct {
	MinKeywordHits int `yaml:"min_keyword_hits" mapstructure:"min_keyword_hits" validate:"gte=0"`
	YearHorizon    int `yaml:"year_horizon" mapstructure:"year_horizon" validate:"gte=0"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider" validate:"omitempty,oneof=local mistral"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// FetchConfig configures PDF downloads over http(s) and ftp.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism" validate:"gt=0"`
}

// PipelineConfig configures per-run behavior and artefacts.
type PipelineConfig struct {
	Version       string `yaml:"version" mapstructure:"version" validate:"required"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	WriteCSV      bool   `yaml:"write_csv" mapstructure:"write_csv"`
	WriteXLSX     bool   `yaml:"write_xlsx" mapstructure:"write_xlsx"`
	WriteMarkdown bool   `yaml:"write_markdown" mapstructure:"write_markdown"`
	WriteJSON     bool   `yaml:"write_json" mapstructure:"write_json"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures failure alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	MinFinished          int     `yaml:"min_finished" mapstructure:"min_finished" validate:"gte=0"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=0"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
}

// PricingConfig holds per-model token pricing for both providers.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ESG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("docstore.ttl_hours", 0)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_base_ms", 1000)
	v.SetDefault("llm.backoff_max_ms", 30000)
	v.SetDefault("llm.rpm", 50)
	v.SetDefault("llm.tpm", 400000)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.breaker_threshold", 5)
	v.SetDefault("llm.breaker_reset_secs", 30)
	v.SetDefault("anthropic.cache_system", true)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")

	v.SetDefault("extract.max_tokens_per_request", 10000)
	v.SetDefault("extract.min_chunk_chars", 100)
	v.SetDefault("extract.pass1_fanout", 4)

	v.SetDefault("catalogue.fuzzy_alias_threshold", 0.8)
	v.SetDefault("catalogue.fuzzy_margin", 0.05)
	v.SetDefault("selector.year_horizon", 30)

	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "mistral-ocr-latest")

	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.rate_limit", 2.0)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "esg-extract/1.0")
	v.SetDefault("fetch.temp_dir", "/tmp/esg-extract")

	v.SetDefault("batch.parallelism", 4)

	v.SetDefault("pipeline.version", "v0.1.0")
	v.SetDefault("pipeline.output_dir", "out")
	v.SetDefault("pipeline.write_csv", true)
	v.SetDefault("pipeline.write_markdown", true)
	v.SetDefault("pipeline.write_json", true)

	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks struct constraints and the cross-field rules validator
// tags cannot express. Failures are configuration errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return resilience.NewConfigError(eris.Wrap(err, "config: validate"))
	}

	if c.LLM.ReplayDir == "" {
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				return resilience.NewConfigError(eris.New("config: anthropic.key is required for llm.provider=anthropic"))
			}
		case "openai":
			if c.OpenAI.Key == "" {
				return resilience.NewConfigError(eris.New("config: openai.key is required for llm.provider=openai"))
			}
		}
	}
	if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
		return resilience.NewConfigError(eris.New("config: ocr.mistral_api_key is required for ocr.provider=mistral"))
	}
	if c.DocStore.Driver == "redis" && c.Redis.Addr == "" {
		return resilience.NewConfigError(eris.New("config: redis.addr is required for docstore.driver=redis"))
	}
	if c.DocStore.Driver == "postgres" && c.Store.Driver != "postgres" {
		return resilience.NewConfigError(eris.New("config: docstore.driver=postgres needs store.driver=postgres"))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
