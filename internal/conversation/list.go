// Package conversation owns the in-memory conversation list: paginated loads,
// full reconciliation against the store, optimistic local patches and the
// change-feed watcher that keeps the list fresh.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/aggregator"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/search"
)

// State is the list's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

type operation int

const (
	opNone operation = iota
	opLoad
	opLoadMore
	opReconcile
)

// Fetcher builds pages of conversations.
type Fetcher interface {
	FetchPage(ctx context.Context, filter models.Filter, sort models.Sort, pageNumber, pageSize int) (aggregator.Page, error)
}

// Options configures a List.
type Options struct {
	PageSize int

	// FetchTimeout bounds every fetch; zero means no bound.
	FetchTimeout time.Duration

	// Search is used by View; the zero value uses search.DefaultEngine.
	Search *search.Engine

	Metrics *metrics.Recorder

	// OnChange receives a snapshot after every materialization, failure and
	// local patch. It is called without the list lock held.
	OnChange func(Snapshot)
}

// Snapshot is a deep copy of the list state.
type Snapshot struct {
	State         State
	Conversations []models.Conversation
	Filter        models.Filter
	Sort          models.Sort
	Page          int
	HasMore       bool
	TotalCount    int
	Err           error
}

// List is the ordered collection of loaded conversations. Fetches run
// outside the lock; every fetch is tagged with a sequence number and only
// the response to the latest issued fetch is applied.
type List struct {
	fetcher Fetcher
	opts    Options
	engine  search.Engine
	logger  zerolog.Logger

	mu            sync.Mutex
	state         State
	conversations []models.Conversation
	filter        models.Filter
	sort          models.Sort
	page          int
	hasMore       bool
	total         int
	lastErr       error
	lastOp        operation
	seq           uint64
	loading       bool
}

// NewList creates an idle list.
func NewList(fetcher Fetcher, opts Options) *List {
	if opts.PageSize <= 0 {
		opts.PageSize = aggregator.DefaultPageSize
	}
	engine := search.DefaultEngine()
	if opts.Search != nil {
		engine = *opts.Search
	}
	return &List{
		fetcher: fetcher,
		opts:    opts,
		engine:  engine,
		logger:  logging.Component("conversation"),
		state:   StateIdle,
		sort:    models.DefaultSort(),
		total:   -1,
	}
}

// Load fetches page 1 for filter and sort and replaces the collection.
func (l *List) Load(ctx context.Context, filter models.Filter, sort models.Sort) error {
	l.mu.Lock()
	l.filter = filter
	l.sort = sort.Normalize()
	l.mu.Unlock()
	return l.loadFirst(ctx, opLoad)
}

// Reconcile reloads page 1 with the current filter and sort, replacing the
// collection. It is a no-op before the first Load.
func (l *List) Reconcile(ctx context.Context) error {
	l.mu.Lock()
	idle := l.state == StateIdle
	l.mu.Unlock()
	if idle {
		return nil
	}

	err := l.loadFirst(ctx, opReconcile)
	l.opts.Metrics.ObserveReconcile(err)
	return err
}

func (l *List) loadFirst(ctx context.Context, op operation) error {
	l.mu.Lock()
	seq := l.begin(op)
	filter, sort := l.filter, l.sort
	l.mu.Unlock()

	page, err := l.fetch(ctx, filter, sort, 1)

	l.mu.Lock()
	if !l.current(seq) {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		snap := l.failLocked(err)
		l.mu.Unlock()
		l.notify(snap)
		return err
	}

	l.conversations = search.PartitionPinned(page.Conversations)
	if l.conversations == nil {
		l.conversations = []models.Conversation{}
	}
	l.page = 1
	snap := l.readyLocked(page)
	l.mu.Unlock()

	l.logger.Debug().Int("rows", len(snap.Conversations)).Bool("has_more", snap.HasMore).Msg("list loaded")
	l.notify(snap)
	return nil
}

// LoadMore fetches the next page and appends it. It is a no-op when there is
// nothing more to load or a fetch is already in flight. Rows already present
// are skipped. If the page would place a pinned row after an unpinned one,
// which only happens after a concurrent pin, the page is discarded and the
// list reconciled instead.
func (l *List) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.loading || !l.hasMore || l.page < 1 {
		l.mu.Unlock()
		return nil
	}
	seq := l.begin(opLoadMore)
	filter, sort, next := l.filter, l.sort, l.page+1
	l.mu.Unlock()

	page, err := l.fetch(ctx, filter, sort, next)

	l.mu.Lock()
	if !l.current(seq) {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		snap := l.failLocked(err)
		l.mu.Unlock()
		l.notify(snap)
		return err
	}

	present := make(map[string]struct{}, len(l.conversations))
	hasUnpinned := false
	for _, conv := range l.conversations {
		present[conv.ID] = struct{}{}
		if !conv.Pinned {
			hasUnpinned = true
		}
	}

	fresh := make([]models.Conversation, 0, len(page.Conversations))
	for _, conv := range search.PartitionPinned(page.Conversations) {
		if _, dup := present[conv.ID]; dup {
			continue
		}
		if conv.Pinned && hasUnpinned {
			// Let Reconcile take over the load.
			l.loading = false
			l.mu.Unlock()
			l.logger.Debug().Str("id", conv.ID).Msg("pinned row behind unpinned rows, reconciling")
			return l.Reconcile(ctx)
		}
		fresh = append(fresh, conv)
	}

	l.conversations = append(l.conversations, fresh...)
	l.page = next
	snap := l.readyLocked(page)
	l.mu.Unlock()

	l.logger.Debug().Int("page", next).Int("appended", len(fresh)).Msg("list page appended")
	l.notify(snap)
	return nil
}

// Retry re-runs the last operation.
func (l *List) Retry(ctx context.Context) error {
	l.mu.Lock()
	op := l.lastOp
	l.mu.Unlock()

	switch op {
	case opLoadMore:
		return l.LoadMore(ctx)
	case opReconcile:
		return l.Reconcile(ctx)
	case opLoad:
		return l.loadFirst(ctx, opLoad)
	default:
		return nil
	}
}

// ApplyLocalPatch runs patch on every loaded conversation whose id is in ids
// and returns how many were patched. Patches must be idempotent and must be
// followed by Reconcile; they are never the final state.
func (l *List) ApplyLocalPatch(ids []string, patch func(*models.Conversation)) int {
	if len(ids) == 0 || patch == nil {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	l.mu.Lock()
	patched := 0
	for i := range l.conversations {
		if _, ok := want[l.conversations[i].ID]; ok {
			patch(&l.conversations[i])
			patched++
		}
	}
	if patched == 0 {
		l.mu.Unlock()
		return 0
	}
	l.conversations = search.PartitionPinned(l.conversations)
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.notify(snap)
	return patched
}

// Snapshot returns a deep copy of the current state.
func (l *List) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// State returns the current lifecycle state.
func (l *List) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// HasMore reports whether another page can be loaded.
func (l *List) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// Loading reports whether a fetch is in flight.
func (l *List) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// View returns the loaded, non-archived conversations narrowed by filter
// and its search text.
func (l *List) View(filter models.Filter) []models.Conversation {
	l.mu.Lock()
	visible := make([]models.Conversation, 0, len(l.conversations))
	for _, conv := range l.conversations {
		if !conv.Archived {
			visible = append(visible, conv)
		}
	}
	l.mu.Unlock()

	return l.engine.Run(visible, filter)
}

func (l *List) fetch(ctx context.Context, filter models.Filter, sort models.Sort, page int) (aggregator.Page, error) {
	if l.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.FetchTimeout)
		defer cancel()
	}

	result, err := l.fetcher.FetchPage(ctx, filter, sort, page, l.opts.PageSize)
	if err != nil {
		return aggregator.Page{}, err
	}
	// A fetcher that ignores its context must not outlive the timeout.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return aggregator.Page{}, &aggregator.AggregationError{Page: page, Err: fmt.Errorf("fetch abandoned: %w", ctxErr)}
	}
	return result, nil
}

func (l *List) begin(op operation) uint64 {
	l.seq++
	l.loading = true
	l.lastOp = op
	l.state = StateLoading
	return l.seq
}

func (l *List) current(seq uint64) bool {
	if seq != l.seq {
		l.opts.Metrics.StaleResponse()
		l.logger.Debug().Uint64("seq", seq).Uint64("latest", l.seq).Msg("stale response discarded")
		return false
	}
	l.loading = false
	return true
}

func (l *List) failLocked(err error) Snapshot {
	l.state = StateError
	l.lastErr = err
	l.logger.Warn().Err(err).Msg("list fetch failed")
	return l.snapshotLocked()
}

func (l *List) readyLocked(page aggregator.Page) Snapshot {
	l.hasMore = page.HasMore
	l.total = page.TotalCount
	l.state = StateReady
	l.lastErr = nil
	l.opts.Metrics.SetListSize(len(l.conversations))
	return l.snapshotLocked()
}

func (l *List) snapshotLocked() Snapshot {
	return Snapshot{
		State:         l.state,
		Conversations: models.CloneConversations(l.conversations),
		Filter:        l.filter,
		Sort:          l.sort,
		Page:          l.page,
		HasMore:       l.hasMore,
		TotalCount:    l.total,
		Err:           l.lastErr,
	}
}

func (l *List) notify(snap Snapshot) {
	if l.opts.OnChange != nil {
		l.opts.OnChange(snap)
	}
}
