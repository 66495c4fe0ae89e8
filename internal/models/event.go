package models

import "time"

// Table names a watched table of the row store.
type Table string

const (
	TableThreads  Table = "threads"
	TableMessages Table = "messages"
)

// ChangeKind describes what happened to the affected rows.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"

	// ChangeResync is emitted after a lost subscription recovers; anything may have changed.
	ChangeResync ChangeKind = "resync"
)

// ChangeEvent signals that rows of a table changed. RowID and ThreadID are hints
// only; consumers treat every event as a full invalidation.
type ChangeEvent struct {
	// Seq is the position in the persisted change log (0 for in-process events).
	Seq int64 `json:"seq"`

	// Table is the table that changed.
	Table Table `json:"table"`

	// Kind is the change kind.
	Kind ChangeKind `json:"kind"`

	// RowID is the affected row, if a single row was affected.
	RowID string `json:"row_id,omitempty"`

	// ThreadID is the thread the change belongs to, if known.
	ThreadID string `json:"thread_id,omitempty"`

	// At is when the change was committed.
	At time.Time `json:"at"`
}
