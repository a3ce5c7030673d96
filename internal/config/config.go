// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Store     StoreConfig     `mapstructure:"store"`
	Index     IndexConfig     `mapstructure:"index"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Lenses    []LensConfig    `mapstructure:"lenses"`
}

// LensConfig scopes the crawl to a slice of the web. With no lenses
// configured every target passes.
type LensConfig struct {
	Name          string            `mapstructure:"name"`
	AllowHosts    []string          `mapstructure:"allow_hosts"`
	AllowPrefixes []string          `mapstructure:"allow_prefixes"`
	DenyPrefixes  []string          `mapstructure:"deny_prefixes"`
	Tags          map[string]string `mapstructure:"tags"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs frontier and fetch pipeline behavior.
type CrawlerConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	PerHostMax       int     `mapstructure:"per_host_max"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	UserAgent        string  `mapstructure:"user_agent"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	FreshnessHours   int     `mapstructure:"freshness_hours"`
	QueueDepth       int     `mapstructure:"queue_depth"`
	MaxDepth         int     `mapstructure:"max_depth"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ExtractConfig controls content extraction.
type ExtractConfig struct {
	PdfToTextPath  string `mapstructure:"pdftotext_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend      string `mapstructure:"backend"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// IndexConfig controls index persistence and the embedding dimensionality.
type IndexConfig struct {
	Dir             string `mapstructure:"dir"`
	VectorDimension int    `mapstructure:"vector_dimension"`
}

// SearchConfig fixes the hybrid scoring function. The weights are part of
// the relevance contract and must stay stable across versions.
type SearchConfig struct {
	LexicalWeight     float64 `mapstructure:"lexical_weight"`
	SemanticWeight    float64 `mapstructure:"semantic_weight"`
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`
	DefaultLimit      int     `mapstructure:"default_limit"`
	TopK              int     `mapstructure:"top_k"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BlobConfig selects where raw fetched artifacts are archived.
type BlobConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// EventsConfig selects the index-event publisher.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LODESTONE")
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
	v.SetDefault("server.port", 7625)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.per_host_max", 2)
	v.SetDefault("crawler.per_host_rps", 1.0)
	v.SetDefault("crawler.user_agent", "lodestone-bot/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.freshness_hours", 24)
	v.SetDefault("crawler.queue_depth", 1024)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.timeout_seconds", 30)
	v.SetDefault("extract.max_body_bytes", 10<<20)
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.max_open_conns", 4)
	v.SetDefault("index.dir", "")
	v.SetDefault("index.vector_dimension", 384)
	v.SetDefault("search.lexical_weight", 0.7)
	v.SetDefault("search.semantic_weight", 0.3)
	v.SetDefault("search.semantic_threshold", 0.35)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.top_k", 50)
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.prefix", "pages")
	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.topic", "index-events")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Index.VectorDimension <= 0 {
		return fmt.Errorf("index.vector_dimension must be > 0")
	}
	if c.Search.LexicalWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must be >= 0")
	}
	if c.Search.LexicalWeight+c.Search.SemanticWeight == 0 {
		return fmt.Errorf("at least one search weight must be > 0")
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.backend must be memory, sqlite, or postgres")
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
	}
	switch c.Blob.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("blob.backend must be memory, local, or gcs")
	}
	if c.Blob.Backend == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("blob.gcs_bucket is required for the gcs backend")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for i, lens := range c.Lenses {
		if len(lens.AllowHosts) == 0 && len(lens.AllowPrefixes) == 0 {
			return fmt.Errorf("lenses[%d] (%s) must allow at least one host or prefix", i, lens.Name)
		}
	}
	switch c.Events.Backend {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("events.backend must be memory or pubsub")
	}
	if c.Events.Backend == "pubsub" && c.Events.ProjectID == "" {
		return fmt.Errorf("events.project_id is required for the pubsub backend")
	}
	switch c.Embedding.Provider {
	case "hash", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be hash or ollama")
	}
	return nil
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// FreshnessWindow returns how long a fetched document is considered fresh.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Crawler.FreshnessHours) * time.Hour
}
