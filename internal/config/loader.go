package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (THREADLINE_SYNC_PAGE_SIZE).
const EnvPrefix = "THREADLINE"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "threadline"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "threadline"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := defaultSettings(cfg)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Viper's Unmarshal ignores env vars on nested keys unless bound explicitly.
	for _, key := range Keys() {
		_ = v.BindEnv(key, EnvVar(key))
	}

	v.AutomaticEnv()
}

func defaultSettings(cfg *Config) map[string]any {
	return map[string]any{
		"global.data_dir":   cfg.Global.DataDir,
		"global.config_dir": cfg.Global.ConfigDir,

		"database.path":            cfg.Database.Path,
		"database.max_connections": cfg.Database.MaxConnections,
		"database.busy_timeout_ms": cfg.Database.BusyTimeoutMs,
		"database.retry_attempts":  cfg.Database.RetryAttempts,
		"database.retry_backoff":   cfg.Database.RetryBackoff,

		"logging.level":         cfg.Logging.Level,
		"logging.format":        cfg.Logging.Format,
		"logging.file":          cfg.Logging.File,
		"logging.enable_caller": cfg.Logging.EnableCaller,

		"sync.page_size":            cfg.Sync.PageSize,
		"sync.fetch_timeout":        cfg.Sync.FetchTimeout,
		"sync.count_policy":         cfg.Sync.CountPolicy,
		"sync.latest_strategy":      cfg.Sync.LatestStrategy,
		"sync.latest_concurrency":   cfg.Sync.LatestConcurrency,
		"sync.optimistic_fast_path": cfg.Sync.OptimisticFastPath,
		"sync.reconcile_rate":       cfg.Sync.ReconcileRate,
		"sync.reconcile_burst":      cfg.Sync.ReconcileBurst,
		"sync.fallback_interval":    cfg.Sync.FallbackInterval,

		"feed.poll_interval":      cfg.Feed.PollInterval,
		"feed.reconnect_interval": cfg.Feed.ReconnectInterval,
		"feed.batch_size":         cfg.Feed.BatchSize,
		"feed.retention":          cfg.Feed.Retention,
		"feed.prune_schedule":     cfg.Feed.PruneSchedule,

		"search.threshold":        cfg.Search.Threshold,
		"search.min_query_length": cfg.Search.MinQueryLength,

		"identity.user_id": cfg.Identity.UserID,

		"metrics.addr": cfg.Metrics.Addr,
	}
}

// Keys lists every configurable key in sorted order.
func Keys() []string {
	settings := defaultSettings(DefaultConfig())
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set overrides a key, taking precedence over file and env values.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// AllSettings returns the merged settings map.
func (l *Loader) AllSettings() map[string]any {
	return l.v.AllSettings()
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
