// Package store defines the row-store contracts the synchronization engine consumes.
// internal/db provides the SQLite implementation; tests substitute fakes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tOgg1/threadline/internal/models"
)

// ErrThreadNotFound is returned when a thread id does not exist.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadQuery is a range-paginated, sorted read of non-archived threads.
// Archived threads are never returned.
type ThreadQuery struct {
	// Filter carries the predicates that map onto thread columns
	// (urgency, role, date range on last_message_at). Search text and read
	// status are ignored by the store.
	Filter models.Filter
	Sort   models.Sort
	Offset int
	Limit  int
}

// ThreadPatch sets thread flags. Nil fields are left unchanged.
type ThreadPatch struct {
	IsRead   *bool
	Pinned   *bool
	Archived *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p ThreadPatch) IsEmpty() bool {
	return p.IsRead == nil && p.Pinned == nil && p.Archived == nil
}

// ThreadReader reads pages of threads.
type ThreadReader interface {
	ListThreads(ctx context.Context, q ThreadQuery) ([]models.Thread, error)
	CountThreads(ctx context.Context, q ThreadQuery) (int, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
}

// MessageReader reads messages of one thread.
type MessageReader interface {
	// LatestMessage returns nil, nil when the thread has no messages.
	LatestMessage(ctx context.Context, threadID string) (*models.Message, error)
	// ListMessages returns the full history ascending by time.
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	// MessagesAfter returns messages with Seq > afterSeq in insertion order.
	MessagesAfter(ctx context.Context, threadID string, afterSeq int64) ([]models.Message, error)
}

// BatchMessageReader fetches the latest message of many threads in one query.
type BatchMessageReader interface {
	LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error)
}

// ThreadMutator applies batched flag updates.
type ThreadMutator interface {
	// UpdateThreads issues one update over all ids. Setting IsRead also sets the
	// read flag of every message in those threads.
	UpdateThreads(ctx context.Context, ids []string, patch ThreadPatch) error
}

// ThreadWriter creates threads.
type ThreadWriter interface {
	CreateThread(ctx context.Context, thread *models.Thread) error
}

// MessageWriter appends messages.
type MessageWriter interface {
	// InsertMessage appends msg and bumps the thread's last_message_at.
	InsertMessage(ctx context.Context, msg *models.Message) error
}

// Store is the full collaborator surface.
type Store interface {
	ThreadReader
	MessageReader
	BatchMessageReader
	ThreadMutator
	ThreadWriter
	MessageWriter
}

// Identity exposes the current user synchronously.
type Identity interface {
	CurrentUserID() string
}

// StaticIdentity is an Identity with a fixed user id.
type StaticIdentity string

// CurrentUserID returns the fixed id.
func (s StaticIdentity) CurrentUserID() string { return string(s) }

// MutationError reports a mutation the store rejected.
type MutationError struct {
	Op  string
	IDs []string
	Err error
}

func (e *MutationError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Op, strings.Join(e.IDs, ","), e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
