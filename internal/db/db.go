// Package db provides SQLite storage for threads, messages and the change log.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/logging"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Config configures a database handle.
type Config struct {
	// Path is the SQLite file path.
	Path string

	// MaxConnections bounds the connection pool (0 = driver default).
	MaxConnections int

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int
}

// DefaultConfig returns sensible defaults for a file database.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 4,
		BusyTimeoutMs:  5000,
	}
}

// DB wraps a SQLite connection pool and fans committed changes out to a publisher.
type DB struct {
	*sql.DB

	publisher events.Publisher
	retry     RetryPolicy
	logger    zerolog.Logger
}

// Option customizes a DB.
type Option func(*DB)

// WithPublisher publishes a change event after every committed mutation.
func WithPublisher(p events.Publisher) Option {
	return func(db *DB) {
		db.publisher = p
	}
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config, opts ...Option) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = DefaultConfig().BusyTimeoutMs
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", cfg.Path, busy)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := newDB(sqlDB, opts...)
	db.logger.Debug().Str("dsn", logging.RedactDSN(dsn)).Msg("database opened")
	return db, nil
}

// OpenInMemory opens a private in-memory database. A single connection keeps
// every query on the same memory database.
func OpenInMemory(opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return newDB(sqlDB, opts...), nil
}

func newDB(sqlDB *sql.DB, opts ...Option) *DB {
	db := &DB{
		DB:     sqlDB,
		retry:  DefaultRetryPolicy(),
		logger: logging.Component("db"),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Migrate creates the schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
