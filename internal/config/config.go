package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sheets    SheetsConfig    `yaml:"sheets" mapstructure:"sheets"`
	Tavily    TavilyConfig    `yaml:"tavily" mapstructure:"tavily"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Resend    ResendConfig    `yaml:"resend" mapstructure:"resend"`
	Scorer    ScorerConfig    `yaml:"scorer" mapstructure:"scorer"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Dispatch  DispatchConfig  `yaml:"dispatch" mapstructure:"dispatch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-snapshot store.
type StoreConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string        `yaml:"database_url" mapstructure:"database_url"`
	SuspensionTTL time.Duration `yaml:"suspension_ttl" mapstructure:"suspension_ttl"`
}

// SheetsConfig holds Google Sheets API settings.
type SheetsConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	SpreadsheetID     string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Token             string `yaml:"token" mapstructure:"token"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// TavilyConfig holds Tavily search API settings.
type TavilyConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ResendConfig holds Resend email API settings.
type ResendConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	From    string `yaml:"from" mapstructure:"from"`
}

// ScorerConfig configures qualification scoring.
type ScorerConfig struct {
	QualificationThreshold int    `yaml:"qualification_threshold" mapstructure:"qualification_threshold"`
	DefaultScore           int    `yaml:"default_score" mapstructure:"default_score"`
	TargetProfile          string `yaml:"target_profile" mapstructure:"target_profile"`
}

// SchemaConfig configures column role inference.
type SchemaConfig struct {
	AliasFile string `yaml:"alias_file" mapstructure:"alias_file"`
}

// PipelineConfig configures the enrichment pass.
type PipelineConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit" mapstructure:"concurrency_limit"`
	FlushThreshold   int           `yaml:"flush_threshold" mapstructure:"flush_threshold"`
	SecsPerRow       float64       `yaml:"secs_per_row" mapstructure:"secs_per_row"`
	ChunkCooldown    time.Duration `yaml:"chunk_cooldown" mapstructure:"chunk_cooldown"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	EnrichmentChars  int           `yaml:"enrichment_chars" mapstructure:"enrichment_chars"`
}

// DispatchConfig configures the send pass.
type DispatchConfig struct {
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
	StaggerDelay    time.Duration `yaml:"stagger_delay" mapstructure:"stagger_delay"`
	BatchDelay      time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	DailySendCap    int           `yaml:"daily_send_cap" mapstructure:"daily_send_cap"`
	SubjectTemplate string        `yaml:"subject_template" mapstructure:"subject_template"`
}

// ServerConfig configures the resume/status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.suspension_ttl", 72*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sheets.base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("sheets.requests_per_minute", 60)
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.max_results", 3)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("resend.base_url", "https://api.resend.com")
	v.SetDefault("scorer.qualification_threshold", 70)
	v.SetDefault("scorer.default_score", 50)
	v.SetDefault("pipeline.concurrency_limit", 10)
	v.SetDefault("pipeline.flush_threshold", 50)
	v.SetDefault("pipeline.secs_per_row", 12.0)
	v.SetDefault("pipeline.chunk_cooldown", 2*time.Second)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_backoff", 1*time.Second)
	v.SetDefault("pipeline.enrichment_chars", 2000)
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.stagger_delay", 200*time.Millisecond)
	v.SetDefault("dispatch.batch_delay", 3*time.Second)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.retry_backoff", 2*time.Second)
	v.SetDefault("dispatch.daily_send_cap", 500)

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
