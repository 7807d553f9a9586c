// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// EnvPrefix prefixes every environment override, e.g. POI_AMAP_KEY.
const EnvPrefix = "POI"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	AMap       AMapConfig       `mapstructure:"amap"`
	BulkSearch BulkSearchConfig `mapstructure:"bulk_search"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Regions    RegionsConfig    `mapstructure:"regions"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AMapConfig configures the upstream search client.
type AMapConfig struct {
	Key            string  `mapstructure:"key"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitInfo  string  `mapstructure:"rate_limit_info"`
	QPS            float64 `mapstructure:"qps"`
	Burst          int     `mapstructure:"burst"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// BulkSearchConfig holds the bulk-search defaults callers may override.
type BulkSearchConfig struct {
	MaxConcurrency     int  `mapstructure:"max_concurrency"`
	DelayMinMs         int  `mapstructure:"delay_min_ms"`
	DelayMaxMs         int  `mapstructure:"delay_max_ms"`
	MaxPageConcurrency int  `mapstructure:"max_page_concurrency"`
	PageSize           int  `mapstructure:"page_size"`
	KeywordFilter      bool `mapstructure:"keyword_filter"`
	MaxPages           int  `mapstructure:"max_pages"`
}

// RetryConfig is the per-page attempt budget.
type RetryConfig struct {
	Count   int `mapstructure:"count"`
	DelayMs int `mapstructure:"delay_ms"`
}

// RegistryConfig controls job retention.
type RegistryConfig struct {
	Retention    time.Duration `mapstructure:"retention"`
	ReapSchedule string        `mapstructure:"reap_schedule"`
}

// StorageConfig selects where aggregates are persisted.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	BatchSize   int    `mapstructure:"batch_size"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig enables the upstream page cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PubSubConfig holds metadata for job notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Verbose   bool   `mapstructure:"verbose"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// RegionsConfig points at an optional province/city table. Empty uses the
// built-in table.
type RegionsConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env files, an optional config file and the
// environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
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

// loadDotEnv reads .env.local then .env. Existing variables win.
func loadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("amap.key", "")
	v.SetDefault("amap.base_url", "https://restapi.amap.com/v5/place/text")
	v.SetDefault("amap.timeout_seconds", 15)
	v.SetDefault("amap.rate_limit_info", "CUQPS_HAS_EXCEEDED_THE_LIMIT")
	v.SetDefault("amap.qps", 0)
	v.SetDefault("amap.burst", 1)
	v.SetDefault("amap.user_agent", "realtime-poi-crawler/1.0")
	v.SetDefault("bulk_search.max_concurrency", 1)
	v.SetDefault("bulk_search.delay_min_ms", 1000)
	v.SetDefault("bulk_search.delay_max_ms", 1500)
	v.SetDefault("bulk_search.max_page_concurrency", 2)
	v.SetDefault("bulk_search.page_size", poi.DefaultPageSize)
	v.SetDefault("bulk_search.keyword_filter", false)
	v.SetDefault("bulk_search.max_pages", 0)
	v.SetDefault("retry.count", 3)
	v.SetDefault("retry.delay_ms", 1000)
	v.SetDefault("registry.retention", "1h")
	v.SetDefault("registry.reap_schedule", "@every 10m")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "poi")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.batch_size", 1000)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "6h")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("pubsub.verbose", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("regions.file", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.AMap.Key) == "" {
		return fmt.Errorf("amap.key must be set")
	}
	if c.AMap.TimeoutSeconds <= 0 {
		return fmt.Errorf("amap.timeout_seconds must be > 0")
	}
	if c.BulkSearch.MaxConcurrency < 1 {
		return fmt.Errorf("bulk_search.max_concurrency must be >= 1")
	}
	if c.BulkSearch.DelayMinMs < 0 || c.BulkSearch.DelayMaxMs < c.BulkSearch.DelayMinMs {
		return fmt.Errorf("bulk_search.delay_max_ms must be >= delay_min_ms >= 0")
	}
	if c.BulkSearch.MaxPageConcurrency < 1 {
		return fmt.Errorf("bulk_search.max_page_concurrency must be >= 1")
	}
	if c.BulkSearch.PageSize < 1 || c.BulkSearch.PageSize > poi.DefaultPageSize {
		return fmt.Errorf("bulk_search.page_size must be between 1 and %d", poi.DefaultPageSize)
	}
	if c.BulkSearch.MaxPages < 0 {
		return fmt.Errorf("bulk_search.max_pages must be >= 0")
	}
	if c.Retry.Count < 1 {
		return fmt.Errorf("retry.count must be >= 1")
	}
	if c.Retry.DelayMs < 0 {
		return fmt.Errorf("retry.delay_ms must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs, postgres", c.Storage.Backend)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// DelayWindow is the default pause window before each upstream request.
func (c Config) DelayWindow() poi.DelayWindow {
	return poi.DelayWindow{
		Min: time.Duration(c.BulkSearch.DelayMinMs) * time.Millisecond,
		Max: time.Duration(c.BulkSearch.DelayMaxMs) * time.Millisecond,
	}
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() poi.RetryPolicy {
	return poi.RetryPolicy{
		Count:     c.Retry.Count,
		BaseDelay: time.Duration(c.Retry.DelayMs) * time.Millisecond,
	}
}

// UpstreamTimeout is the per-request timeout for AMap calls.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.AMap.TimeoutSeconds) * time.Second
}
