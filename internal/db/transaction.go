package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tOgg1/threadline/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy bounds how often a transaction is retried while SQLite reports
// the database as busy or locked. Backoff doubles after every attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	return p
}

// WithRetryPolicy overrides the busy retry policy of mutations.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(db *DB) {
		db.retry = p.normalized()
	}
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mutate runs fn in a retried transaction that also records the returned
// changes in the change log, then publishes them once committed.
func (db *DB) mutate(ctx context.Context, fn func(*sql.Tx) ([]models.ChangeEvent, error)) error {
	var committed []models.ChangeEvent
	attempts, err := retryBusy(ctx, db.retry, func() error {
		return db.Transaction(ctx, func(tx *sql.Tx) error {
			changes, err := fn(tx)
			if err != nil {
				return err
			}
			for i := range changes {
				if err := appendChange(ctx, tx, &changes[i]); err != nil {
					return err
				}
			}
			committed = changes
			return nil
		})
	})
	if attempts > 1 {
		db.logger.Debug().Int("attempts", attempts).Err(err).Msg("mutation retried on busy database")
	}
	if err != nil {
		return err
	}

	if db.publisher != nil {
		for _, change := range committed {
			db.publisher.Publish(change)
		}
	}
	db.logger.Debug().Int("changes", len(committed)).Msg("mutation committed")
	return nil
}

// retryBusy calls fn until it succeeds, fails with a non-busy error, or the
// policy runs out. It returns the number of attempts made.
func retryBusy(ctx context.Context, policy RetryPolicy, fn func() error) (int, error) {
	policy = policy.normalized()
	backoff := policy.Backoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn()
		if err == nil || !isBusyError(err) || attempt >= policy.Attempts {
			return attempt, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	// Errors wrapped into plain strings by callers still carry SQLite's text.
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}
