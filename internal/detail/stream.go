// Package detail streams the message history of one open thread: the full
// history on open, then appends driven by change-feed events.
package detail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/changefeed"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

// ErrNotOpen is returned when sending on a stream that is not streaming.
var ErrNotOpen = errors.New("detail stream is not open")

// State is the stream's lifecycle state.
type State string

const (
	StateClosed    State = "closed"
	StateLoading   State = "loading"
	StateStreaming State = "streaming"
)

// Store is the store surface the stream reads and writes.
type Store interface {
	store.MessageReader
	store.MessageWriter
	store.ThreadMutator
}

// Entry is a message in the stream. Pending marks an optimistic send not yet
// confirmed by the store; Failed marks a send the store rejected.
type Entry struct {
	models.Message
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// AppendEvent is delivered after rows are appended.
type AppendEvent struct {
	ThreadID       string
	Entries        []Entry
	ScrollToBottom bool
}

// Options configures a Stream.
type Options struct {
	Feed     changefeed.Client
	Identity store.Identity

	// KeepFailedSends keeps rejected sends in the stream marked Failed
	// instead of removing them.
	KeepFailedSends bool

	// MarkReadOnOpen marks the thread read through the store when it opens.
	MarkReadOnOpen bool

	Metrics *metrics.Recorder

	// OnAppend is called without the stream lock held.
	OnAppend func(AppendEvent)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stream holds the ordered messages of one thread. Rows are only ever
// appended; the order is never recomputed.
type Stream struct {
	store  Store
	opts   Options
	logger zerolog.Logger

	// fetchMu serializes catch-up reads so appends happen in seq order.
	fetchMu sync.Mutex

	mu       sync.Mutex
	state    State
	threadID string
	entries  []Entry
	index    map[string]int
	lastSeq  int64
	gen      uint64
	unsub    func()
	cancel   context.CancelFunc
}

// New creates a closed stream.
func New(s Store, opts Options) *Stream {
	if opts.Identity == nil {
		opts.Identity = store.StaticIdentity("")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Stream{
		store:  s,
		opts:   opts,
		logger: logging.Component("detail"),
		state:  StateClosed,
		index:  make(map[string]int),
	}
}

// Open loads the history of threadID and starts following new messages.
// An already open stream is closed first.
func (s *Stream) Open(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return models.ErrInvalidThreadID
	}
	s.Close()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateLoading
	s.threadID = threadID
	s.mu.Unlock()

	logger := logging.WithThread(s.logger, threadID)

	history, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		s.reset(gen)
		return err
	}

	if s.opts.MarkReadOnOpen {
		read := true
		if err := s.store.UpdateThreads(ctx, []string{threadID}, store.ThreadPatch{IsRead: &read}); err != nil {
			logger.Warn().Err(err).Msg("mark read on open failed")
		} else {
			for i := range history {
				history[i].IsRead = true
			}
		}
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.entries = make([]Entry, 0, len(history))
	for _, msg := range history {
		s.appendLocked(Entry{Message: msg})
	}
	s.cancel = cancel
	s.mu.Unlock()

	if s.opts.Feed != nil {
		unsub, err := s.opts.Feed.Subscribe(models.TableMessages, func(event models.ChangeEvent) {
			if event.ThreadID != "" && event.ThreadID != threadID && event.Kind != models.ChangeResync {
				return
			}
			if err := s.catchUp(streamCtx, gen); err != nil && streamCtx.Err() == nil {
				logger.Warn().Err(err).Msg("catch up after change failed")
			}
		}, func(err error) {
			logger.Warn().Err(err).Msg("message feed error")
		})
		if err != nil {
			cancel()
			s.reset(gen)
			return err
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			unsub()
			return nil
		}
		s.unsub = unsub
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.gen == gen {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	logger.Debug().Int("messages", len(history)).Msg("detail stream opened")

	// Messages inserted between the history read and the subscription.
	return s.catchUp(ctx, gen)
}

// Close stops following the thread and clears the stream.
func (s *Stream) Close() {
	s.mu.Lock()
	unsub, cancel := s.unsub, s.cancel
	wasOpen := s.state != StateClosed
	threadID := s.threadID
	s.gen++
	s.clearLocked()
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	if wasOpen {
		logger := logging.WithThread(s.logger, threadID)
		logger.Debug().Msg("detail stream closed")
	}
}

// Send appends content optimistically and inserts it into the store with the
// same id. On failure the optimistic row is removed, or marked Failed with
// KeepFailedSends, and a *store.MutationError is returned.
func (s *Stream) Send(ctx context.Context, content string) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, models.ErrEmptyContent
	}

	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return Entry{}, ErrNotOpen
	}
	gen := s.gen
	msg := models.Message{
		ID:        uuid.NewString(),
		ThreadID:  s.threadID,
		SenderID:  s.opts.Identity.CurrentUserID(),
		Content:   content,
		CreatedAt: s.opts.Now().UTC(),
		IsRead:    true,
	}
	optimistic := Entry{Message: msg, Pending: true}
	s.appendLocked(optimistic)
	threadID := s.threadID
	s.mu.Unlock()

	s.notify(threadID, []Entry{optimistic})

	logger := logging.WithThread(s.logger, threadID)
	logger.Debug().Str("id", msg.ID).Str("content", logging.RedactContent(content, 16)).Msg("sending message")

	insertErr := s.store.InsertMessage(ctx, &msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, present := s.index[msg.ID]
	if s.gen != gen || !present {
		// Closed or reopened meanwhile; nothing left to update.
		if insertErr != nil {
			return Entry{}, asMutationError(insertErr, threadID)
		}
		return Entry{Message: msg}, nil
	}

	if insertErr != nil {
		logger.Warn().Err(insertErr).Str("id", msg.ID).Msg("send failed")
		if s.opts.KeepFailedSends {
			s.entries[idx].Pending = false
			s.entries[idx].Failed = true
			return s.entries[idx], asMutationError(insertErr, threadID)
		}
		s.removeLocked(idx)
		return Entry{}, asMutationError(insertErr, threadID)
	}

	if s.entries[idx].Pending {
		s.entries[idx].Message = msg
		s.entries[idx].Pending = false
	}
	return s.entries[idx], nil
}

// Entries returns a copy of the stream's rows.
func (s *Stream) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ThreadID returns the open thread, or "" when closed.
func (s *Stream) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

func (s *Stream) catchUp(ctx context.Context, gen uint64) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	threadID, after := s.threadID, s.lastSeq
	s.mu.Unlock()

	rows, err := s.store.MessagesAfter(ctx, threadID, after)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	var appended []Entry
	for _, msg := range rows {
		if idx, ok := s.index[msg.ID]; ok {
			if s.entries[idx].Pending {
				s.entries[idx].Message = msg
				s.entries[idx].Pending = false
			}
			s.advanceLocked(msg.Seq)
			continue
		}
		entry := Entry{Message: msg}
		s.appendLocked(entry)
		appended = append(appended, entry)
	}
	s.mu.Unlock()

	if len(appended) > 0 {
		s.opts.Metrics.DetailAppended(len(appended))
		s.notify(threadID, appended)
	}
	return nil
}

func (s *Stream) appendLocked(entry Entry) {
	s.index[entry.ID] = len(s.entries)
	s.entries = append(s.entries, entry)
	s.advanceLocked(entry.Seq)
}

func (s *Stream) advanceLocked(seq int64) {
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

func (s *Stream) removeLocked(idx int) {
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.index = make(map[string]int, len(s.entries))
	for i, entry := range s.entries {
		s.index[entry.ID] = i
	}
}

func (s *Stream) reset(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.clearLocked()
	}
}

func (s *Stream) clearLocked() {
	s.state = StateClosed
	s.threadID = ""
	s.entries = nil
	s.index = make(map[string]int)
	s.lastSeq = 0
	s.unsub = nil
	s.cancel = nil
}

func (s *Stream) notify(threadID string, entries []Entry) {
	if s.opts.OnAppend != nil {
		s.opts.OnAppend(AppendEvent{ThreadID: threadID, Entries: entries, ScrollToBottom: true})
	}
}

func asMutationError(err error, threadID string) error {
	var mutErr *store.MutationError
	if errors.As(err, &mutErr) {
		return err
	}
	return &store.MutationError{Op: "send message", IDs: []string{threadID}, Err: err}
}
