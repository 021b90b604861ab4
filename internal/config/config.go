package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	ObjStore  ObjStoreConfig  `yaml:"objstore" mapstructure:"objstore"`
	DocStruct DocStructConfig `yaml:"docstruct" mapstructure:"docstruct"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Evidence  EvidenceConfig  `yaml:"evidence" mapstructure:"evidence"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Worker    WorkerConfig    `yaml:"worker" mapstructure:"worker"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ObjStoreConfig configures object storage for uploaded documents.
type ObjStoreConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// DocStructConfig holds document structuring service settings.
type DocStructConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	PollRatePerMin float64 `yaml:"poll_rate_per_min" mapstructure:"poll_rate_per_min"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PipelineConfig configures the review pipeline's safety rails.
type PipelineConfig struct {
	MockExtraction       bool    `yaml:"mock_extraction" mapstructure:"mock_extraction"`
	MockAI               bool    `yaml:"mock_ai" mapstructure:"mock_ai"`
	MaxInputChars        int     `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	MaxOutputTokens      int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	MaxUSDPerJob         float64 `yaml:"max_usd_per_job" mapstructure:"max_usd_per_job"`
	MaxExtractionPolls   int     `yaml:"max_extraction_polls" mapstructure:"max_extraction_polls"`
	MaxExtractionMinutes int     `yaml:"max_extraction_minutes" mapstructure:"max_extraction_minutes"`
	MaxReasoningAttempts int     `yaml:"max_reasoning_attempts" mapstructure:"max_reasoning_attempts"`
	CooldownSecs         int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	LockTTLSecs          int     `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// EvidenceConfig configures evidence candidate extraction. The score floor
// and window sizes are empirically tuned; treat them as parameters, not
// load-bearing constants.
type EvidenceConfig struct {
	MaxCandidates   int `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxExcerptChars int `yaml:"max_excerpt_chars" mapstructure:"max_excerpt_chars"`
	MinScore        int `yaml:"min_score" mapstructure:"min_score"`
	AnchorLookback  int `yaml:"anchor_lookback" mapstructure:"anchor_lookback"`
	TitleScanLines  int `yaml:"title_scan_lines" mapstructure:"title_scan_lines"`
}

// ServerConfig configures the pipeline HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// WorkerConfig configures the Temporal worker that drives re-invocation.
type WorkerConfig struct {
	HostPort      string `yaml:"host_port" mapstructure:"host_port"`
	Namespace     string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue     string `yaml:"task_queue" mapstructure:"task_queue"`
	RetryInterval int    `yaml:"retry_interval_secs" mapstructure:"retry_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDERPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("docstruct.base_url", "https://api.unstructuredapp.io/general/v1")
	v.SetDefault("docstruct.poll_rate_per_min", 30)
	v.SetDefault("docstruct.timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("pipeline.max_input_chars", 180000)
	v.SetDefault("pipeline.max_output_tokens", 8192)
	v.SetDefault("pipeline.max_usd_per_job", 0.90)
	v.SetDefault("pipeline.max_extraction_polls", 40)
	v.SetDefault("pipeline.max_extraction_minutes", 30)
	v.SetDefault("pipeline.max_reasoning_attempts", 3)
	v.SetDefault("pipeline.cooldown_secs", 45)
	v.SetDefault("pipeline.lock_ttl_secs", 300)
	v.SetDefault("evidence.max_candidates", 220)
	v.SetDefault("evidence.max_excerpt_chars", 420)
	v.SetDefault("evidence.min_score", 5)
	v.SetDefault("evidence.anchor_lookback", 30)
	v.SetDefault("evidence.title_scan_lines", 80)
	v.SetDefault("worker.host_port", "localhost:7233")
	v.SetDefault("worker.namespace", "default")
	v.SetDefault("worker.task_queue", "tenderpilot-review")
	v.SetDefault("worker.retry_interval_secs", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing.Anthropic = DefaultPricing()
	}

	return &cfg, nil
}

// DefaultPricing returns the default per-model pricing table.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	}
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
