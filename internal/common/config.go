package common

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is constructed once at
// startup and passed into the components that need it; there is no global
// mutable configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LLMConfig holds provider credentials and call defaults.
type LLMConfig struct {
	DefaultProvider  string        `mapstructure:"default_provider"`
	DefaultModel     string        `mapstructure:"default_model"`
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	AnthropicAPIKey  string        `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	Temperature      float32       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig holds the thresholds, retry bounds and budgets that
// drive the extract/validate/repair loop.
type ExtractionConfig struct {
	// ConfidenceThreshold marks any field below it invalid.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// DefaultPasses / MaxPasses bound the pass budget of a job.
	DefaultPasses int `mapstructure:"default_passes"`
	MaxPasses     int `mapstructure:"max_passes"`
	// MaxRetries bounds the explicit Retry operation per job.
	MaxRetries int `mapstructure:"max_retries"`
	// ProviderAttempts bounds in-place retries of transient provider errors.
	ProviderAttempts uint `mapstructure:"provider_attempts"`
	// SchemaAttempts bounds reformulated-prompt retries after schema violations.
	SchemaAttempts int `mapstructure:"schema_attempts"`
	// RetryBaseDelay is the base backoff between provider retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// JobTimeout is the per-job wall-clock budget.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// PromptCharBudget caps the assembled prompt length; document text is
	// tail-truncated to fit (roughly 4 chars per token).
	PromptCharBudget int `mapstructure:"prompt_char_budget"`
}

// QueueConfig holds worker-pool configuration.
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	Size    int `mapstructure:"size"`
}

// IngestionConfig points at the document-ingestion collaborator.
type IngestionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from an optional config file and
// EXTRACTIOND_-prefixed environment variables, over built-in defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:extraction.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.default_model", "gpt-4o-mini")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 45*time.Second)

	v.SetDefault("extraction.confidence_threshold", 0.70)
	v.SetDefault("extraction.default_passes", 2)
	v.SetDefault("extraction.max_passes", 5)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.provider_attempts", 3)
	v.SetDefault("extraction.schema_attempts", 2)
	v.SetDefault("extraction.retry_base_delay", 2*time.Second)
	v.SetDefault("extraction.job_timeout", 5*time.Minute)
	v.SetDefault("extraction.prompt_char_budget", 48000)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.size", 256)

	v.SetDefault("ingestion.base_url", "")
	v.SetDefault("ingestion.timeout", 10*time.Second)

	v.SetEnvPrefix("EXTRACTIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, WrapError(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, WrapError(err, "unmarshal config")
	}
	return &cfg, nil
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "database.dsn is required", ErrInvalidInput)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return NewAppError("CONFIG_ERROR", "database.driver must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "server.http_addr is required", ErrInvalidInput)
	}
	if c.Extraction.ConfidenceThreshold <= 0 || c.Extraction.ConfidenceThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "extraction.confidence_threshold must be in (0,1]", ErrInvalidInput)
	}
	if c.Extraction.MaxPasses < 1 || c.Extraction.DefaultPasses < 1 || c.Extraction.DefaultPasses > c.Extraction.MaxPasses {
		return NewAppError("CONFIG_ERROR", "extraction pass bounds are inconsistent", ErrInvalidInput)
	}
	return nil
}
