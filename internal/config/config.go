// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/readlater-importer/internal/scrape"
)

// EnvPrefix prefixes every environment override, e.g. READLATER_SERVER_PORT.
const EnvPrefix = "READLATER"

// Provider kinds.
const (
	ProviderColly     = "colly"
	ProviderHeadless  = "headless"
	ProviderAuto      = "auto"
	ProviderFirecrawl = "firecrawl"
)

// Report storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Import    ImportConfig    `mapstructure:"import"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Firecrawl FirecrawlConfig `mapstructure:"firecrawl"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ImportConfig bounds what a single batch may ask for.
type ImportConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
	MaxBatchSize   int `mapstructure:"max_batch_size"`
}

// ScrapeConfig configures the per-URL adapter.
type ScrapeConfig struct {
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxRetries           int     `mapstructure:"max_retries"`
	BackoffInitialMs     int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int     `mapstructure:"backoff_max_ms"`
	RetryAfterMaxSeconds int     `mapstructure:"retry_after_max_seconds"`
	RateLimitRPS         float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int     `mapstructure:"rate_limit_burst"`
}

// ProviderConfig selects the extraction provider.
type ProviderConfig struct {
	Kind          string `mapstructure:"kind"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// FirecrawlConfig points at a Firecrawl-compatible API.
type FirecrawlConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel     int `mapstructure:"max_parallel"`
	NavTimeoutSec   int `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where batch reports are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run repository database. An empty DSN keeps
// runs in memory.
type DBConfig struct {
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	RunsTable  string `mapstructure:"runs_table"`
	ItemsTable string `mapstructure:"items_table"`
}

// PubSubConfig holds the topic drafts are published to. An empty topic keeps
// drafts in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the observability hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	// ProjectID enables the Cloud Trace exporter.
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("import.concurrency", 5)
	v.SetDefault("import.max_concurrency", 20)
	v.SetDefault("import.max_batch_size", 500)
	v.SetDefault("scrape.timeout_seconds", 30)
	v.SetDefault("scrape.max_retries", 2)
	v.SetDefault("scrape.backoff_initial_ms", 500)
	v.SetDefault("scrape.backoff_max_ms", 10000)
	v.SetDefault("scrape.retry_after_max_seconds", 30)
	v.SetDefault("scrape.rate_limit_rps", 1.0)
	v.SetDefault("scrape.rate_limit_burst", 2)
	v.SetDefault("provider.kind", ProviderColly)
	v.SetDefault("provider.user_agent", "readlater-importer/0.1")
	v.SetDefault("provider.respect_robots", true)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev")
	v.SetDefault("firecrawl.api_key", "")
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "./reports")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.runs_table", "import_runs")
	v.SetDefault("db.items_table", "import_items")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 200)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "readlater-importer")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Import.MaxConcurrency <= 0 {
		return fmt.Errorf("import.max_concurrency must be > 0")
	}
	if c.Import.Concurrency <= 0 || c.Import.Concurrency > c.Import.MaxConcurrency {
		return fmt.Errorf("import.concurrency must be between 1 and import.max_concurrency")
	}
	if c.Import.MaxBatchSize <= 0 {
		return fmt.Errorf("import.max_batch_size must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	switch c.Provider.Kind {
	case ProviderColly, ProviderHeadless, ProviderAuto:
	case ProviderFirecrawl:
		if c.Firecrawl.APIKey == "" {
			return fmt.Errorf("firecrawl.api_key must be set for the firecrawl provider")
		}
	default:
		return fmt.Errorf("provider.kind %q is not one of colly, headless, auto, firecrawl", c.Provider.Kind)
	}
	if (c.Provider.Kind == ProviderHeadless || c.Provider.Kind == ProviderAuto) && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless rendering is used")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

// ScrapeTimeout is the per-call provider budget.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// RetryPolicy converts the scrape section into adapter retry settings.
func (c Config) RetryPolicy() scrape.RetryConfig {
	maxRetries := c.Scrape.MaxRetries
	if maxRetries == 0 {
		// Zero in config means "no retries"; the adapter reads zero as "default".
		maxRetries = -1
	}
	return scrape.RetryConfig{
		MaxRetries:    maxRetries,
		BaseDelay:     time.Duration(c.Scrape.BackoffInitialMs) * time.Millisecond,
		MaxDelay:      time.Duration(c.Scrape.BackoffMaxMs) * time.Millisecond,
		MaxRetryAfter: time.Duration(c.Scrape.RetryAfterMaxSeconds) * time.Second,
	}
}

// NavTimeout is the headless navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// ProgressWait is the maximum time events wait in the hub before a flush.
func (c Config) ProgressWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
