// Package config handles threadline configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tOgg1/threadline/internal/scheduler"
)

// Latest-message fetch strategies.
const (
	LatestPerThread = "per_thread"
	LatestBatched   = "batched"
)

// HasMore policies.
const (
	CountExact    = "exact"
	CountFullPage = "full_page"
)

// Config is the root configuration structure for threadline.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	Feed     FeedConfig     `yaml:"feed" mapstructure:"feed"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where threadline stores its data (default: ~/.local/share/threadline).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/threadline).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long to wait for a locked database.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// RetryAttempts bounds retries of a mutation that hit a busy database.
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryBackoff is the first wait between retries; it doubles each time.
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SyncConfig tunes list materialization and reconciliation.
type SyncConfig struct {
	// PageSize is the number of threads fetched per page.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// FetchTimeout bounds every page fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`

	// CountPolicy decides HasMore: exact (count query) or full_page.
	CountPolicy string `yaml:"count_policy" mapstructure:"count_policy"`

	// LatestStrategy is per_thread (one query per thread) or batched.
	LatestStrategy string `yaml:"latest_strategy" mapstructure:"latest_strategy"`

	// LatestConcurrency bounds parallel per-thread latest-message queries.
	LatestConcurrency int `yaml:"latest_concurrency" mapstructure:"latest_concurrency"`

	// OptimisticFastPath patches the list before bulk mutations are confirmed.
	OptimisticFastPath bool `yaml:"optimistic_fast_path" mapstructure:"optimistic_fast_path"`

	// ReconcileRate is the sustained reconciles per second under event bursts.
	ReconcileRate float64 `yaml:"reconcile_rate" mapstructure:"reconcile_rate"`

	// ReconcileBurst is the reconcile burst allowance.
	ReconcileBurst int `yaml:"reconcile_burst" mapstructure:"reconcile_burst"`

	// FallbackInterval is the periodic reconcile interval while the feed is down.
	FallbackInterval time.Duration `yaml:"fallback_interval" mapstructure:"fallback_interval"`
}

// FeedConfig tunes the change feed and its log.
type FeedConfig struct {
	// PollInterval is how often the change log is tailed.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// ReconnectInterval is how often a failed feed retries.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`

	// BatchSize is the max changes read per poll.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`

	// Retention is how long change log rows are kept.
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`

	// PruneSchedule is the cron spec for change log pruning.
	PruneSchedule string `yaml:"prune_schedule" mapstructure:"prune_schedule"`
}

// SearchConfig tunes fuzzy search.
type SearchConfig struct {
	// Threshold is the max normalized edit distance for a fuzzy token match.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`

	// MinQueryLength is the shortest query that filters the list.
	MinQueryLength int `yaml:"min_query_length" mapstructure:"min_query_length"`
}

// IdentityConfig names the current user.
type IdentityConfig struct {
	UserID string `yaml:"user_id" mapstructure:"user_id"`
}

// MetricsConfig contains metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled).
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "threadline"),
			ConfigDir: filepath.Join(homeDir, ".config", "threadline"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/threadline.db
			MaxConnections: 4,
			BusyTimeoutMs:  5000,
			RetryAttempts:  3,
			RetryBackoff:   50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Sync: SyncConfig{
			PageSize:          20,
			FetchTimeout:      10 * time.Second,
			CountPolicy:       CountExact,
			LatestStrategy:    LatestPerThread,
			LatestConcurrency: 8,
			ReconcileRate:     4,
			ReconcileBurst:    1,
			FallbackInterval:  30 * time.Second,
		},
		Feed: FeedConfig{
			PollInterval:      time.Second,
			ReconnectInterval: 5 * time.Second,
			BatchSize:         100,
			Retention:         7 * 24 * time.Hour,
			PruneSchedule:     "@hourly",
		},
		Search: SearchConfig{
			Threshold:      0.4,
			MinQueryLength: 2,
		},
		Identity: IdentityConfig{
			UserID: "me",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Database.RetryAttempts < 1 {
		return fmt.Errorf("database.retry_attempts must be at least 1")
	}

	if c.Sync.PageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive")
	}
	switch c.Sync.CountPolicy {
	case CountExact, CountFullPage:
	default:
		return fmt.Errorf("sync.count_policy must be one of %s, %s", CountExact, CountFullPage)
	}
	switch c.Sync.LatestStrategy {
	case LatestPerThread, LatestBatched:
	default:
		return fmt.Errorf("sync.latest_strategy must be one of %s, %s", LatestPerThread, LatestBatched)
	}
	if c.Sync.LatestConcurrency < 1 {
		return fmt.Errorf("sync.latest_concurrency must be at least 1")
	}
	if c.Sync.ReconcileRate <= 0 {
		return fmt.Errorf("sync.reconcile_rate must be positive")
	}
	if c.Sync.ReconcileBurst < 1 {
		return fmt.Errorf("sync.reconcile_burst must be at least 1")
	}
	if c.Sync.FallbackInterval < time.Second {
		return fmt.Errorf("sync.fallback_interval must be at least 1s")
	}

	if c.Feed.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("feed.poll_interval must be at least 10ms")
	}
	if c.Feed.ReconnectInterval < 10*time.Millisecond {
		return fmt.Errorf("feed.reconnect_interval must be at least 10ms")
	}
	if c.Feed.BatchSize < 1 {
		return fmt.Errorf("feed.batch_size must be at least 1")
	}
	if c.Feed.PruneSchedule != "" {
		if err := scheduler.ValidateSchedule(c.Feed.PruneSchedule); err != nil {
			return fmt.Errorf("feed.prune_schedule: %w", err)
		}
	}
	if c.Feed.Retention <= 0 {
		return fmt.Errorf("feed.retention must be positive")
	}

	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("search.threshold must be between 0 and 1")
	}
	if c.Search.MinQueryLength < 1 {
		return fmt.Errorf("search.min_query_length must be at least 1")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "threadline.db")
}

// SessionPath returns the CLI session file path.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Global.DataDir, "session.yaml")
}
