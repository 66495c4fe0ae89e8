// Package storetest provides SQLite-backed stores and failure injection for
// tests of the sync engine.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tOgg1/threadline/internal/db"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

// BaseTime is a fixed reference instant for seeded rows.
var BaseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated in-memory database that publishes to the returned publisher.
func NewDB(t testing.TB) (*db.DB, *events.InMemoryPublisher) {
	t.Helper()

	publisher := events.NewInMemoryPublisher()
	database, err := db.OpenInMemory(db.WithPublisher(publisher))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate(context.Background()))
	return database, publisher
}

// Thread describes a seeded thread.
type Thread struct {
	ID       string
	Subject  string
	Partner  string
	Role     string
	Priority models.Priority
	Status   string
	At       time.Time
	Pinned   bool
	Archived bool
}

// CreateThread inserts a thread with defaults for unset fields.
func CreateThread(t testing.TB, s store.Store, spec Thread) {
	t.Helper()

	if spec.Subject == "" {
		spec.Subject = "Project " + spec.ID
	}
	if spec.Partner == "" {
		spec.Partner = "Partner " + spec.ID
	}
	if spec.Role == "" {
		spec.Role = models.RoleClient
	}
	if spec.Priority == "" {
		spec.Priority = models.PriorityMedium
	}
	if spec.At.IsZero() {
		spec.At = BaseTime
	}

	require.NoError(t, s.CreateThread(context.Background(), &models.Thread{
		ID:            spec.ID,
		Subject:       spec.Subject,
		Partner:       models.Partner{Name: spec.Partner, Role: spec.Role},
		Priority:      spec.Priority,
		Status:        spec.Status,
		LastMessageAt: spec.At,
		CreatedAt:     spec.At,
		Pinned:        spec.Pinned,
		Archived:      spec.Archived,
	}))
}

// AddMessage appends a message to threadID.
func AddMessage(t testing.TB, s store.Store, threadID, content string, at time.Time, read bool) models.Message {
	t.Helper()

	msg := &models.Message{ThreadID: threadID, SenderID: "partner", Content: content, CreatedAt: at, IsRead: read}
	require.NoError(t, s.InsertMessage(context.Background(), msg))
	return *msg
}

// Op names a store method for failure injection.
type Op string

const (
	OpListThreads    Op = "ListThreads"
	OpCountThreads   Op = "CountThreads"
	OpGetThread      Op = "GetThread"
	OpLatestMessage  Op = "LatestMessage"
	OpLatestMessages Op = "LatestMessages"
	OpListMessages   Op = "ListMessages"
	OpMessagesAfter  Op = "MessagesAfter"
	OpUpdateThreads  Op = "UpdateThreads"
	OpCreateThread   Op = "CreateThread"
	OpInsertMessage  Op = "InsertMessage"
)

// Faulty wraps a Store and fails selected operations on demand. It can also
// hold operations until released, to exercise in-flight behavior.
type Faulty struct {
	store.Store

	mu     sync.Mutex
	errs   map[Op]error
	gates  map[Op]chan struct{}
	counts map[Op]int
}

// NewFaulty wraps s.
func NewFaulty(s store.Store) *Faulty {
	return &Faulty{
		Store:  s,
		errs:   make(map[Op]error),
		gates:  make(map[Op]chan struct{}),
		counts: make(map[Op]int),
	}
}

// Fail makes op return err until Heal is called.
func (f *Faulty) Fail(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

// Heal clears every injected failure.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = make(map[Op]error)
}

// Hold blocks op until the returned release func is called or the caller's
// context ends.
func (f *Faulty) Hold(op Op) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[op] == gate {
				delete(f.gates, op)
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op was invoked.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

func (f *Faulty) enter(ctx context.Context, op Op) error {
	f.mu.Lock()
	f.counts[op]++
	gate := f.gates[op]
	err := f.errs[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Faulty) ListThreads(ctx context.Context, q store.ThreadQuery) ([]models.Thread, error) {
	if err := f.enter(ctx, OpListThreads); err != nil {
		return nil, err
	}
	return f.Store.ListThreads(ctx, q)
}

func (f *Faulty) CountThreads(ctx context.Context, q store.ThreadQuery) (int, error) {
	if err := f.enter(ctx, OpCountThreads); err != nil {
		return 0, err
	}
	return f.Store.CountThreads(ctx, q)
}

func (f *Faulty) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if err := f.enter(ctx, OpGetThread); err != nil {
		return nil, err
	}
	return f.Store.GetThread(ctx, id)
}

func (f *Faulty) LatestMessage(ctx context.Context, threadID string) (*models.Message, error) {
	if err := f.enter(ctx, OpLatestMessage); err != nil {
		return nil, err
	}
	return f.Store.LatestMessage(ctx, threadID)
}

func (f *Faulty) LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error) {
	if err := f.enter(ctx, OpLatestMessages); err != nil {
		return nil, err
	}
	return f.Store.LatestMessages(ctx, threadIDs)
}

func (f *Faulty) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if err := f.enter(ctx, OpListMessages); err != nil {
		return nil, err
	}
	return f.Store.ListMessages(ctx, threadID)
}

func (f *Faulty) MessagesAfter(ctx context.Context, threadID string, afterSeq int64) ([]models.Message, error) {
	if err := f.enter(ctx, OpMessagesAfter); err != nil {
		return nil, err
	}
	return f.Store.MessagesAfter(ctx, threadID, afterSeq)
}

func (f *Faulty) UpdateThreads(ctx context.Context, ids []string, patch store.ThreadPatch) error {
	if err := f.enter(ctx, OpUpdateThreads); err != nil {
		return &store.MutationError{Op: "update threads", IDs: ids, Err: err}
	}
	return f.Store.UpdateThreads(ctx, ids, patch)
}

func (f *Faulty) CreateThread(ctx context.Context, thread *models.Thread) error {
	if err := f.enter(ctx, OpCreateThread); err != nil {
		return err
	}
	return f.Store.CreateThread(ctx, thread)
}

func (f *Faulty) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := f.enter(ctx, OpInsertMessage); err != nil {
		ids := []string{msg.ThreadID}
		return &store.MutationError{Op: "insert message", IDs: ids, Err: err}
	}
	return f.Store.InsertMessage(ctx, msg)
}
