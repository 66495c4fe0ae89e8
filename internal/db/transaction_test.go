package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/models"
)

func TestRetryBusy(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}

	tests := []struct {
		name         string
		failures     int
		failure      error
		wantAttempts int
		wantErr      bool
	}{
		{name: "succeeds after busy", failures: 2, failure: errors.New("database is locked"), wantAttempts: 3},
		{name: "stops on other errors", failures: 5, failure: errors.New("boom"), wantAttempts: 1, wantErr: true},
		{name: "gives up after policy", failures: 5, failure: fmt.Errorf("insert: %w", errors.New("SQLITE_BUSY")), wantAttempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := retryBusy(context.Background(), policy, func() error {
				calls++
				if calls <= tt.failures {
					return tt.failure
				}
				return nil
			})
			require.Equal(t, tt.wantAttempts, attempts)
			require.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryBusy_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	attempts, err := retryBusy(ctx, RetryPolicy{}, func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, attempts)
	require.False(t, called)
}

func TestIsBusyError(t *testing.T) {
	require.False(t, isBusyError(nil))
	require.False(t, isBusyError(context.DeadlineExceeded))
	require.False(t, isBusyError(errors.New("constraint failed")))
	require.True(t, isBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
}

func TestMutate_RetriedChangesRecordedOnce(t *testing.T) {
	publisher := events.NewInMemoryPublisher()
	database := setupTestDB(t, WithPublisher(publisher), WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Millisecond}))
	ctx := context.Background()

	published := 0
	require.NoError(t, publisher.Subscribe("count", events.Filter{}, func(models.ChangeEvent) { published++ }))

	calls := 0
	err := database.mutate(ctx, func(tx *sql.Tx) ([]models.ChangeEvent, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("database is locked")
		}
		return []models.ChangeEvent{{Table: models.TableThreads, Kind: models.ChangeUpdate, RowID: "t1"}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, published)

	changes, err := database.ChangesAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "t1", changes[0].RowID)
}

func TestTransaction_RollsBack(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	err := database.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO partners (id, name, role) VALUES ('p1', 'Ana', 'client')`); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	var count int
	require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM partners`).Scan(&count))
	require.Zero(t, count)
}
