package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Workflow  WorkflowConfig  `yaml:"workflow" mapstructure:"workflow"`
	Runtime   RuntimeConfig   `yaml:"runtime" mapstructure:"runtime"`
	Document  DocumentConfig  `yaml:"document" mapstructure:"document"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the oracle and the extractor.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	DecomposeModel   string `yaml:"decompose_model" mapstructure:"decompose_model"`
	ExtractModel     string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	ExtractMaxTokens int64  `yaml:"extract_max_tokens" mapstructure:"extract_max_tokens"`
}

// NotionConfig holds Notion API credentials and the form database ID.
type NotionConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	FormDB            string  `yaml:"form_db" mapstructure:"form_db"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// WorkflowConfig controls the decomposition workflow.
type WorkflowConfig struct {
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	HumanReview bool   `yaml:"human_review" mapstructure:"human_review"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
}

// RuntimeConfig controls document execution.
type RuntimeConfig struct {
	MaxConcurrency    int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	UnitTimeoutSecs   int     `yaml:"unit_timeout_secs" mapstructure:"unit_timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	PrimeCache        bool    `yaml:"prime_cache" mapstructure:"prime_cache"`
}

// DocumentConfig selects how PDF documents are turned into text.
type DocumentConfig struct {
	OCRProvider   string `yaml:"ocr_provider" mapstructure:"ocr_provider"` // "local" or "mistral"
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// RetryConfig configures retry behavior for remote calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitorConfig configures the run health checker started by serve.
type MonitorConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	ReviewBacklog         int     `yaml:"review_backlog" mapstructure:"review_backlog"`
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
	v.SetEnvPrefix("FORMFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "formflow.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.decompose_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.extract_max_tokens", 2048)
	v.SetDefault("notion.requests_per_second", 3.0)
	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.human_review", false)
	v.SetDefault("workflow.output_dir", "plans")
	v.SetDefault("runtime.max_concurrency", 5)
	v.SetDefault("runtime.unit_timeout_secs", 120)
	v.SetDefault("runtime.requests_per_second", 4.0)
	v.SetDefault("runtime.prime_cache", true)
	v.SetDefault("document.ocr_provider", "local")
	v.SetDefault("document.pdftotext_path", "pdftotext")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.50)
	v.SetDefault("monitoring.review_backlog", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts. Mode is
// one of "plan", "extract", or "serve"; all problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "plan":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Workflow.MaxAttempts < 1 {
			problems = append(problems, "workflow.max_attempts must be at least 1")
		}
	case "extract":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Runtime.MaxConcurrency < 1 {
			problems = append(problems, "runtime.max_concurrency must be at least 1")
		}
		switch c.Document.OCRProvider {
		case "", "local":
		case "mistral":
			if c.Document.MistralKey == "" {
				problems = append(problems, "document.mistral_key is required for the mistral OCR provider")
			}
		default:
			problems = append(problems, fmt.Sprintf("document.ocr_provider %q is not supported", c.Document.OCRProvider))
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Monitor.Enabled && c.Monitor.LookbackWindowHours < 1 {
			problems = append(problems, "monitoring.lookback_window_hours must be at least 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
