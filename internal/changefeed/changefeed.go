// Package changefeed delivers row-change notifications for the threads and
// messages tables. Events are invalidation hints; subscribers refetch.
package changefeed

import (
	"errors"
	"fmt"

	"github.com/tOgg1/threadline/internal/models"
)

// ErrUnknownTable is returned when subscribing to a table the feed does not watch.
var ErrUnknownTable = errors.New("unknown table")

// EventHandler receives change events for one subscription. Handlers run on
// the feed's delivery goroutine and should return quickly.
type EventHandler func(event models.ChangeEvent)

// ErrorHandler receives subscription errors.
type ErrorHandler func(err error)

// Client subscribes to change events of one table.
type Client interface {
	// Subscribe registers handlers and returns a function that cancels the
	// subscription. onError may be nil.
	Subscribe(table models.Table, onEvent EventHandler, onError ErrorHandler) (unsubscribe func(), err error)
}

// SubscriptionError reports that a subscription stopped receiving events.
// The feed keeps retrying; a resync event follows recovery.
type SubscriptionError struct {
	Table models.Table
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("change feed for %s lost: %v", e.Table, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func validateTable(table models.Table) error {
	switch table {
	case models.TableThreads, models.TableMessages:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}
