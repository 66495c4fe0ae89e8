package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
)

// ChangeSource reads the persisted change log.
type ChangeSource interface {
	ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]models.ChangeEvent, error)
	LatestChangeSeq(ctx context.Context) (int64, error)
}

// PollOptions tunes a PollFeed.
type PollOptions struct {
	PollInterval      time.Duration
	ReconnectInterval time.Duration
	BatchSize         int
	Metrics           *metrics.Recorder
}

func (o PollOptions) withDefaults() PollOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return o
}

type pollSubscriber struct {
	table   models.Table
	onEvent EventHandler
	onError ErrorHandler
}

// PollFeed tails the change log so processes other than the writer see
// changes. A read failure raises a SubscriptionError on every subscriber and
// the feed retries every ReconnectInterval; after recovery each subscriber
// receives a resync event, since changes may have been missed. A subscriber
// added during an outage gets the SubscriptionError as soon as it subscribes.
type PollFeed struct {
	source ChangeSource
	opts   PollOptions
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*pollSubscriber
	outage error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollFeed creates a feed over source. Call Start to begin polling.
func NewPollFeed(source ChangeSource, opts PollOptions) *PollFeed {
	return &PollFeed{
		source: source,
		opts:   opts.withDefaults(),
		logger: logging.Component("changefeed"),
		subs:   make(map[string]*pollSubscriber),
	}
}

// Subscribe implements Client.
func (f *PollFeed) Subscribe(table models.Table, onEvent EventHandler, onError ErrorHandler) (func(), error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if onEvent == nil {
		return nil, errors.New("event handler is required")
	}

	id := uuid.New().String()
	f.mu.Lock()
	f.subs[id] = &pollSubscriber{table: table, onEvent: onEvent, onError: onError}
	outage := f.outage
	f.mu.Unlock()

	if outage != nil && onError != nil {
		onError(&SubscriptionError{Table: table, Err: outage})
	}

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

// Start begins tailing from the newest logged change. It is a no-op if the
// feed is already running.
func (f *PollFeed) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.loop(ctx, f.done)
}

// Close stops polling and waits for the loop to exit.
func (f *PollFeed) Close() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *PollFeed) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var (
		cursor int64
		primed bool
	)

	wait := time.Duration(0)
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		if !primed {
			seq, err := f.source.LatestChangeSeq(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.fail(err)
				wait = f.opts.ReconnectInterval
				continue
			}
			cursor, primed = seq, true
		}

		changes, err := f.source.ChangesAfter(ctx, cursor, f.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.fail(err)
			wait = f.opts.ReconnectInterval
			continue
		}

		if f.endOutage() {
			f.logger.Info().Msg("change feed recovered")
			f.resync()
		}

		for _, change := range changes {
			f.deliver(change)
			cursor = change.Seq
		}

		if len(changes) == f.opts.BatchSize {
			wait = 0
		} else {
			wait = f.opts.PollInterval
		}
	}
}

func (f *PollFeed) snapshot() []*pollSubscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]*pollSubscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (f *PollFeed) deliver(change models.ChangeEvent) {
	for _, sub := range f.snapshot() {
		if sub.table == change.Table {
			f.opts.Metrics.FeedEvent(string(change.Table))
			sub.onEvent(change)
		}
	}
}

// fail reports err to subscribers on the first failure of an outage only.
func (f *PollFeed) fail(err error) {
	f.mu.Lock()
	alreadyFailed := f.outage != nil
	f.outage = err
	f.mu.Unlock()

	if alreadyFailed {
		f.logger.Debug().Err(err).Msg("change feed still unavailable")
		return
	}

	f.logger.Warn().Err(err).Dur("retry_in", f.opts.ReconnectInterval).Msg("change feed lost")
	f.opts.Metrics.FeedError()
	for _, sub := range f.snapshot() {
		if sub.onError != nil {
			sub.onError(&SubscriptionError{Table: sub.table, Err: err})
		}
	}
}

// endOutage ends an outage, reporting whether one was in progress.
func (f *PollFeed) endOutage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	failed := f.outage != nil
	f.outage = nil
	return failed
}

func (f *PollFeed) resync() {
	now := time.Now().UTC()
	for _, sub := range f.snapshot() {
		sub.onEvent(models.ChangeEvent{Table: sub.table, Kind: models.ChangeResync, At: now})
	}
}
