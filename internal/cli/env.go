package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/aggregator"
	"github.com/tOgg1/threadline/internal/config"
	"github.com/tOgg1/threadline/internal/conversation"
	"github.com/tOgg1/threadline/internal/db"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/search"
	"github.com/tOgg1/threadline/internal/store"
)

type globalFlags struct {
	configFile string
	dbPath     string
	logLevel   string
	logFormat  string
	json       bool
}

// environment is the per-invocation state shared by commands.
type environment struct {
	flags globalFlags

	cfg       *config.Config
	logCloser io.Closer
	publisher *events.InMemoryPublisher
	database  *db.DB
}

func (e *environment) init(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if e.flags.configFile != "" {
		loader.SetConfigFile(e.flags.configFile)
	}
	if e.flags.dbPath != "" {
		loader.Set("database.path", e.flags.dbPath)
	}
	if e.flags.logLevel != "" {
		loader.Set("logging.level", e.flags.logLevel)
	}
	if e.flags.logFormat != "" {
		loader.Set("logging.format", e.flags.logFormat)
	}

	cfg, err := loader.Load()
	if err != nil {
		return Exitf(ExitCodeFailure, "load config: %v", err)
	}
	e.cfg = cfg

	closer, err := logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		File:         cfg.Logging.File,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	if err != nil {
		return Exitf(ExitCodeFailure, "init logging: %v", err)
	}
	e.logCloser = closer

	logger := logging.Component("cli").With().Str("command", cmd.Name()).Logger()
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("config loaded")
	}
	logger.Trace().Interface("settings", logging.RedactMap(loader.AllSettings())).Msg("effective configuration")
	cmd.SetContext(logging.WithContext(cmd.Context(), logger))
	return nil
}

// store opens and migrates the database on first use.
func (e *environment) store(ctx context.Context) (*db.DB, error) {
	if e.database != nil {
		return e.database, nil
	}

	e.publisher = events.NewInMemoryPublisher()
	database, err := db.Open(db.Config{
		Path:           e.cfg.DatabasePath(),
		MaxConnections: e.cfg.Database.MaxConnections,
		BusyTimeoutMs:  e.cfg.Database.BusyTimeoutMs,
	}, db.WithPublisher(e.publisher), db.WithRetryPolicy(db.RetryPolicy{
		Attempts: e.cfg.Database.RetryAttempts,
		Backoff:  e.cfg.Database.RetryBackoff,
	}))
	if err != nil {
		return nil, Exitf(ExitCodeFailure, "open database: %v", err)
	}
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, Exitf(ExitCodeFailure, "migrate database: %v", err)
	}
	e.database = database
	return database, nil
}

func (e *environment) close() {
	if e.database != nil {
		_ = e.database.Close()
		e.database = nil
	}
	if e.publisher != nil {
		e.publisher.Close()
		e.publisher = nil
	}
	if e.logCloser != nil {
		_ = e.logCloser.Close()
		e.logCloser = nil
	}
}

func (e *environment) aggregator(s store.Store, recorder *metrics.Recorder) *aggregator.Aggregator {
	var latest aggregator.LatestSource = aggregator.PerThread{Reader: s, Concurrency: e.cfg.Sync.LatestConcurrency}
	if e.cfg.Sync.LatestStrategy == config.LatestBatched {
		latest = aggregator.Batched{Reader: s}
	}
	policy := aggregator.CountExact
	if e.cfg.Sync.CountPolicy == config.CountFullPage {
		policy = aggregator.CountFullPage
	}
	return aggregator.New(s, latest, aggregator.Options{
		PageSize:    e.cfg.Sync.PageSize,
		CountPolicy: policy,
		Metrics:     recorder,
	})
}

func (e *environment) searchEngine() search.Engine {
	return search.Engine{
		Threshold:      e.cfg.Search.Threshold,
		MinQueryLength: e.cfg.Search.MinQueryLength,
	}
}

func (e *environment) newList(s store.Store, recorder *metrics.Recorder, onChange func(conversation.Snapshot)) *conversation.List {
	engine := e.searchEngine()
	return conversation.NewList(e.aggregator(s, recorder), conversation.Options{
		PageSize:     e.cfg.Sync.PageSize,
		FetchTimeout: e.cfg.Sync.FetchTimeout,
		Search:       &engine,
		Metrics:      recorder,
		OnChange:     onChange,
	})
}

func (e *environment) identity() store.Identity {
	return store.StaticIdentity(e.cfg.Identity.UserID)
}

func (e *environment) sessions() *config.SessionStore {
	return config.NewSessionStore(e.cfg.SessionPath())
}

func (e *environment) writeJSON(cmd *cobra.Command, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Exitf(ExitCodeFailure, "encode output: %v", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return err
}
