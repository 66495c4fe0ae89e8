package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/threadline/internal/changefeed"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/scheduler"
)

// Watcher defaults.
const (
	DefaultReconcileRate    = 4
	DefaultReconcileBurst   = 1
	DefaultFallbackInterval = 30 * time.Second
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// ReconcileRate caps reconciles per second.
	ReconcileRate  float64
	ReconcileBurst int

	// FallbackInterval is the period of the reconcile job that runs while
	// the feed is down.
	FallbackInterval time.Duration

	Metrics *metrics.Recorder
}

// Watcher keeps a List fresh from a change feed. Events are coalesced into
// one pending reconcile; bursts collapse into a single refetch.
type Watcher struct {
	list  *List
	feed  changefeed.Client
	sched *scheduler.Scheduler
	opts  WatcherOptions

	limiter *rate.Limiter
	dirty   chan struct{}
	logger  zerolog.Logger

	mu          sync.Mutex
	fallbackJob string
}

// NewWatcher creates a watcher. sched runs the fallback reconcile job and
// must be started by the caller.
func NewWatcher(list *List, feed changefeed.Client, sched *scheduler.Scheduler, opts WatcherOptions) *Watcher {
	if opts.ReconcileRate <= 0 {
		opts.ReconcileRate = DefaultReconcileRate
	}
	if opts.ReconcileBurst <= 0 {
		opts.ReconcileBurst = DefaultReconcileBurst
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = DefaultFallbackInterval
	}
	return &Watcher{
		list:    list,
		feed:    feed,
		sched:   sched,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.ReconcileRate), opts.ReconcileBurst),
		dirty:   make(chan struct{}, 1),
		logger:  logging.Component("conversation").With().Str("role", "watcher").Logger(),
	}
}

// Run subscribes to threads and messages and reconciles the list on every
// change until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	var unsubs []func()
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		w.stopFallback()
	}()

	for _, table := range []models.Table{models.TableThreads, models.TableMessages} {
		unsub, err := w.feed.Subscribe(table, w.onEvent, w.onError)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		unsubs = append(unsubs, unsub)
	}
	w.logger.Info().Msg("watching change feed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.dirty:
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := w.list.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn().Err(err).Msg("reconcile after change failed")
		}
	}
}

// FallbackActive reports whether the periodic fallback reconcile is scheduled.
func (w *Watcher) FallbackActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fallbackJob != ""
}

func (w *Watcher) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *Watcher) onEvent(event models.ChangeEvent) {
	if event.Kind == models.ChangeResync {
		w.stopFallback()
	}
	w.markDirty()
}

func (w *Watcher) onError(err error) {
	var subErr *changefeed.SubscriptionError
	if !errors.As(err, &subErr) {
		w.logger.Warn().Err(err).Msg("change feed error")
		return
	}
	w.logger.Warn().Err(err).Str("table", string(subErr.Table)).Msg("change feed lost, falling back to periodic reconcile")
	w.startFallback()
}

func (w *Watcher) startFallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fallbackJob != "" {
		return
	}

	name := "fallback-reconcile-" + uuid.NewString()
	err := w.sched.Add(name, scheduler.Every(w.opts.FallbackInterval), func(context.Context) error {
		w.markDirty()
		return nil
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("schedule fallback reconcile")
		return
	}
	w.fallbackJob = name
	w.opts.Metrics.SetFallbackActive(true)
}

func (w *Watcher) stopFallback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fallbackJob == "" {
		return
	}
	w.sched.Remove(w.fallbackJob)
	w.fallbackJob = ""
	w.opts.Metrics.SetFallbackActive(false)
	w.logger.Info().Msg("change feed recovered, fallback reconcile stopped")
}
