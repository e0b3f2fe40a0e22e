// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	"github.com/JakeFAU/sitecrawler/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SITECRAWLER_SERVER_PORT.
const EnvPrefix = "SITECRAWLER"

// AppName names the XDG config directory.
const AppName = "sitecrawler"

// DefaultPath returns the XDG config file location, e.g.
// ~/.config/sitecrawler/config.yaml on Linux.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// ResolvePath returns explicit when set, otherwise DefaultPath if that file
// exists, otherwise "" so Load runs on defaults and environment alone.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	path := DefaultPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   logging.Config   `mapstructure:"logging"`
	Crawl     CrawlConfig      `mapstructure:"crawl"`
	Pool      PoolConfig       `mapstructure:"pool"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Store     StoreConfig      `mapstructure:"store"`
	Archive   ArchiveConfig    `mapstructure:"archive"`
	Publisher PublisherConfig  `mapstructure:"publisher"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig holds crawl ceilings, request defaults and scheduler timings.
type CrawlConfig struct {
	MaxPagesCeiling     int           `mapstructure:"max_pages_ceiling"`
	MaxDepthCeiling     int           `mapstructure:"max_depth_ceiling"`
	LinksPerPage        int           `mapstructure:"links_per_page"`
	DefaultMaxPages     int           `mapstructure:"default_max_pages"`
	DefaultMaxDepth     int           `mapstructure:"default_max_depth"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	DrainGrace          time.Duration `mapstructure:"drain_grace"`
	StopGrace           time.Duration `mapstructure:"stop_grace"`
	SnapshotResultLimit int           `mapstructure:"snapshot_result_limit"`
	Timeout             time.Duration `mapstructure:"timeout"`
	HistoryLimit        int           `mapstructure:"history_limit"`
}

// PoolConfig sizes the shared worker pool. Zero worker counts derive from the
// CPU count.
type PoolConfig struct {
	CoreWorkers int           `mapstructure:"core_workers"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// HTTPConfig configures page fetching.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// StoreConfig selects the crawl history backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig selects where finished crawl documents are written.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// PublisherConfig selects the crawl event bus.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds the Google Cloud project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig lists the bootstrap brokers.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// Backend names accepted by Validate.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendKafka    = "kafka"
)

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
	limits := crawler.DefaultLimits()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawl.max_pages_ceiling", limits.MaxPagesCeiling)
	v.SetDefault("crawl.max_depth_ceiling", limits.MaxDepthCeiling)
	v.SetDefault("crawl.links_per_page", limits.LinksPerPage)
	v.SetDefault("crawl.default_max_pages", 100)
	v.SetDefault("crawl.default_max_depth", 3)
	v.SetDefault("crawl.poll_interval", limits.PollInterval)
	v.SetDefault("crawl.drain_grace", limits.DrainGrace)
	v.SetDefault("crawl.stop_grace", limits.StopGrace)
	v.SetDefault("crawl.snapshot_result_limit", limits.SnapshotResultLimit)
	v.SetDefault("crawl.timeout", 15*time.Minute)
	v.SetDefault("crawl.history_limit", 100)
	v.SetDefault("pool.core_workers", 0)
	v.SetDefault("pool.max_workers", 0)
	v.SetDefault("pool.queue_size", 1000)
	v.SetDefault("pool.idle_timeout", 60*time.Second)
	v.SetDefault("http.user_agent", "WebCrawler/1.0")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "crawl_records")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("store.sqlite.path", "sitecrawler.db")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "crawls")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("publisher.backend", BackendMemory)
	v.SetDefault("publisher.topic", "crawl-events")
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.kafka.brokers", []string{})
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", AppName)
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
	if c.Crawl.MaxPagesCeiling <= 0 || c.Crawl.MaxDepthCeiling <= 0 {
		return fmt.Errorf("crawl.max_pages_ceiling and crawl.max_depth_ceiling must be > 0")
	}
	if c.Crawl.DefaultMaxPages <= 0 {
		return fmt.Errorf("crawl.default_max_pages must be > 0")
	}
	if c.Crawl.DefaultMaxDepth < 0 {
		return fmt.Errorf("crawl.default_max_depth must be >= 0")
	}
	if c.Pool.MaxWorkers > 0 && c.Pool.MaxWorkers < c.Pool.CoreWorkers {
		return fmt.Errorf("pool.max_workers must be >= pool.core_workers")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.backend is postgres")
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set when store.backend is sqlite")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, postgres, sqlite (got %q)", c.Store.Backend)
	}

	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs (got %q)", c.Archive.Backend)
	}

	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Publisher.PubSub.ProjectID == "" {
			return fmt.Errorf("publisher.pubsub.project_id must be set when publisher.backend is pubsub")
		}
	case BackendKafka:
		if len(c.Publisher.Kafka.Brokers) == 0 || slices.Contains(c.Publisher.Kafka.Brokers, "") {
			return fmt.Errorf("publisher.kafka.brokers must be set when publisher.backend is kafka")
		}
	default:
		return fmt.Errorf("publisher.backend must be one of none, memory, pubsub, kafka (got %q)", c.Publisher.Backend)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name must be set when telemetry is enabled")
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
		}
	}
	return nil
}

// Limits converts the crawl section into scheduler limits.
func (c Config) Limits() crawler.Limits {
	return crawler.Limits{
		MaxPagesCeiling:     c.Crawl.MaxPagesCeiling,
		MaxDepthCeiling:     c.Crawl.MaxDepthCeiling,
		LinksPerPage:        c.Crawl.LinksPerPage,
		PollInterval:        c.Crawl.PollInterval,
		DrainGrace:          c.Crawl.DrainGrace,
		StopGrace:           c.Crawl.StopGrace,
		SnapshotResultLimit: c.Crawl.SnapshotResultLimit,
	}.WithDefaults()
}
