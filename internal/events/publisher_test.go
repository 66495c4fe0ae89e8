package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tOgg1/threadline/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  models.ChangeEvent
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  models.ChangeEvent{Table: models.TableThreads, Kind: models.ChangeUpdate},
			want:   true,
		},
		{
			name:   "table filter matches",
			filter: Filter{Tables: []models.Table{models.TableMessages}},
			event:  models.ChangeEvent{Table: models.TableMessages, Kind: models.ChangeInsert},
			want:   true,
		},
		{
			name:   "table filter rejects other table",
			filter: Filter{Tables: []models.Table{models.TableMessages}},
			event:  models.ChangeEvent{Table: models.TableThreads, Kind: models.ChangeUpdate},
			want:   false,
		},
		{
			name:   "thread filter matches hint",
			filter: Filter{ThreadID: "t1"},
			event:  models.ChangeEvent{Table: models.TableMessages, ThreadID: "t1"},
			want:   true,
		},
		{
			name:   "thread filter rejects other thread",
			filter: Filter{ThreadID: "t1"},
			event:  models.ChangeEvent{Table: models.TableMessages, ThreadID: "t2"},
			want:   false,
		},
		{
			name:   "event without hint matches thread filter",
			filter: Filter{ThreadID: "t1"},
			event:  models.ChangeEvent{Table: models.TableMessages, Kind: models.ChangeResync},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}

func TestInMemoryPublisher_SubscribeAndPublish(t *testing.T) {
	p := NewInMemoryPublisher()

	var threads, messages atomic.Int32
	require.NoError(t, p.Subscribe("threads", Filter{Tables: []models.Table{models.TableThreads}}, func(models.ChangeEvent) {
		threads.Add(1)
	}))
	require.NoError(t, p.Subscribe("messages", Filter{Tables: []models.Table{models.TableMessages}}, func(models.ChangeEvent) {
		messages.Add(1)
	}))
	require.Equal(t, 2, p.SubscriberCount())

	p.Publish(models.ChangeEvent{Table: models.TableThreads, Kind: models.ChangeUpdate})
	p.Publish(models.ChangeEvent{Table: models.TableMessages, Kind: models.ChangeInsert})
	p.Publish(models.ChangeEvent{Table: models.TableMessages, Kind: models.ChangeInsert})

	require.EqualValues(t, 1, threads.Load())
	require.EqualValues(t, 2, messages.Load())
}

func TestInMemoryPublisher_SubscribeErrors(t *testing.T) {
	p := NewInMemoryPublisher()
	noop := func(models.ChangeEvent) {}

	require.ErrorIs(t, p.Subscribe("", Filter{}, noop), ErrInvalidSubscriptionID)
	require.ErrorIs(t, p.Subscribe("a", Filter{}, nil), ErrNilHandler)
	require.NoError(t, p.Subscribe("a", Filter{}, noop))
	require.ErrorIs(t, p.Subscribe("a", Filter{}, noop), ErrSubscriptionExists)
	require.ErrorIs(t, p.Unsubscribe("missing"), ErrSubscriptionNotFound)
	require.NoError(t, p.Unsubscribe("a"))
	require.Equal(t, 0, p.SubscriberCount())
}

func TestInMemoryPublisher_HandlerMayUnsubscribe(t *testing.T) {
	p := NewInMemoryPublisher()
	calls := 0
	require.NoError(t, p.Subscribe("once", Filter{}, func(models.ChangeEvent) {
		calls++
		_ = p.Unsubscribe("once")
	}))

	p.Publish(models.ChangeEvent{Table: models.TableThreads})
	p.Publish(models.ChangeEvent{Table: models.TableThreads})
	require.Equal(t, 1, calls)
}

func TestInMemoryPublisher_ConcurrentPublish(t *testing.T) {
	p := NewInMemoryPublisher()
	var count atomic.Int64
	require.NoError(t, p.Subscribe("counter", Filter{}, func(models.ChangeEvent) {
		count.Add(1)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Publish(models.ChangeEvent{Table: models.TableMessages})
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 800, count.Load())

	p.Close()
	require.Equal(t, 0, p.SubscriberCount())
}
