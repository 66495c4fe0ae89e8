package changefeed

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
)

const localQueueSize = 64

// LocalFeed delivers events published in-process after each committed
// mutation. Every subscription has its own ordered delivery goroutine, so a
// handler never runs on the mutating goroutine.
type LocalFeed struct {
	publisher events.Publisher
	metrics   *metrics.Recorder
	logger    zerolog.Logger
}

// NewLocalFeed creates a feed over publisher.
func NewLocalFeed(publisher events.Publisher, recorder *metrics.Recorder) *LocalFeed {
	return &LocalFeed{
		publisher: publisher,
		metrics:   recorder,
		logger:    logging.Component("changefeed"),
	}
}

// Subscribe implements Client.
func (f *LocalFeed) Subscribe(table models.Table, onEvent EventHandler, onError ErrorHandler) (func(), error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if onEvent == nil {
		return nil, events.ErrNilHandler
	}

	id := uuid.New().String()
	queue := make(chan models.ChangeEvent, localQueueSize)
	done := make(chan struct{})

	err := f.publisher.Subscribe(id, events.Filter{Tables: []models.Table{table}}, func(event models.ChangeEvent) {
		select {
		case queue <- event:
		case <-done:
		default:
			// A full queue already guarantees a later invalidation.
			f.logger.Debug().Str("table", string(table)).Msg("subscriber queue full, event coalesced")
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case event := <-queue:
				f.metrics.FeedEvent(string(event.Table))
				onEvent(event)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = f.publisher.Unsubscribe(id)
			close(done)
		})
	}, nil
}
