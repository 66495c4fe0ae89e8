package detail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/threadline/internal/changefeed"
	"github.com/tOgg1/threadline/internal/db"
	"github.com/tOgg1/threadline/internal/events"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
	"github.com/tOgg1/threadline/internal/store/storetest"
)

var base = storetest.BaseTime

type appendLog struct {
	mu     sync.Mutex
	events []AppendEvent
}

func (l *appendLog) record(event AppendEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *appendLog) all() []AppendEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AppendEvent(nil), l.events...)
}

type fixture struct {
	db        *db.DB
	publisher *events.InMemoryPublisher
	faulty    *storetest.Faulty
	feed      *changefeed.LocalFeed
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	database, publisher := storetest.NewDB(t)
	storetest.CreateThread(t, database, storetest.Thread{ID: "T", At: base})
	storetest.CreateThread(t, database, storetest.Thread{ID: "other", At: base})
	for i, content := range []string{"one", "two", "three"} {
		storetest.AddMessage(t, database, "T", content, base.Add(time.Duration(i+1)*time.Minute), false)
	}
	return fixture{
		db:        database,
		publisher: publisher,
		faulty:    storetest.NewFaulty(database),
		feed:      changefeed.NewLocalFeed(publisher, nil),
	}
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestStream_AppendsWithoutRefetch(t *testing.T) {
	f := newFixture(t)
	log := &appendLog{}
	stream := New(f.faulty, Options{Feed: f.feed, OnAppend: log.record})
	ctx := context.Background()
	require.Equal(t, StateClosed, stream.State())

	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()
	require.Equal(t, StateStreaming, stream.State())
	require.Equal(t, []string{"one", "two", "three"}, contents(stream.Entries()))
	before := stream.Entries()

	storetest.AddMessage(t, f.db, "other", "elsewhere", base.Add(time.Hour), false)
	storetest.AddMessage(t, f.db, "T", "four", base.Add(time.Hour), false)

	require.Eventually(t, func() bool { return len(stream.Entries()) == 4 }, 2*time.Second, 5*time.Millisecond)
	after := stream.Entries()
	require.Equal(t, before, after[:3], "existing rows are untouched")
	require.Equal(t, "four", after[3].Content)
	require.Equal(t, 1, f.faulty.Calls(storetest.OpListMessages), "history is fetched once")

	appends := log.all()
	require.NotEmpty(t, appends)
	last := appends[len(appends)-1]
	require.True(t, last.ScrollToBottom)
	require.Equal(t, "T", last.ThreadID)
	require.Equal(t, []string{"four"}, contents(last.Entries))
}

func TestStream_SendConfirmed(t *testing.T) {
	f := newFixture(t)
	now := base.Add(2 * time.Hour)
	log := &appendLog{}
	stream := New(f.db, Options{
		Feed:     f.feed,
		Identity: store.StaticIdentity("me"),
		Now:      func() time.Time { return now },
		OnAppend: log.record,
	})
	ctx := context.Background()
	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()

	sent, err := stream.Send(ctx, "on my way")
	require.NoError(t, err)
	require.False(t, sent.Pending)
	require.NotEmpty(t, sent.ID)
	require.Positive(t, sent.Seq)
	require.Equal(t, "me", sent.SenderID)
	require.True(t, sent.CreatedAt.Equal(now))

	first := log.all()[0]
	require.True(t, first.Entries[0].Pending, "optimistic row is announced before the insert")
	require.Equal(t, sent.ID, first.Entries[0].ID)

	history, err := f.db.ListMessages(ctx, "T")
	require.NoError(t, err)
	require.Equal(t, sent.ID, history[len(history)-1].ID)

	// The feed echo of our own insert must not duplicate the row.
	time.Sleep(50 * time.Millisecond)
	entries := stream.Entries()
	require.Equal(t, []string{"one", "two", "three", "on my way"}, contents(entries))
}

func TestStream_SendFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	stream := New(f.faulty, Options{Feed: f.feed})
	ctx := context.Background()
	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()

	boom := errors.New("read-only database")
	f.faulty.Fail(storetest.OpInsertMessage, boom)

	_, err := stream.Send(ctx, "lost")
	var mutErr *store.MutationError
	require.True(t, errors.As(err, &mutErr))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"one", "two", "three"}, contents(stream.Entries()))
}

func TestStream_SendFailureKept(t *testing.T) {
	f := newFixture(t)
	stream := New(f.faulty, Options{Feed: f.feed, KeepFailedSends: true})
	ctx := context.Background()
	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()

	f.faulty.Fail(storetest.OpInsertMessage, errors.New("offline"))
	entry, err := stream.Send(ctx, "retry me")
	require.Error(t, err)
	require.True(t, entry.Failed)
	require.False(t, entry.Pending)

	entries := stream.Entries()
	require.Len(t, entries, 4)
	require.True(t, entries[3].Failed)
}

func TestStream_SendGuards(t *testing.T) {
	f := newFixture(t)
	stream := New(f.db, Options{Feed: f.feed})
	ctx := context.Background()

	_, err := stream.Send(ctx, "hello")
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()
	_, err = stream.Send(ctx, "   ")
	require.ErrorIs(t, err, models.ErrEmptyContent)

	require.ErrorIs(t, stream.Open(ctx, " "), models.ErrInvalidThreadID)
}

func TestStream_MarkReadOnOpen(t *testing.T) {
	f := newFixture(t)
	stream := New(f.db, Options{Feed: f.feed, MarkReadOnOpen: true})
	ctx := context.Background()
	require.NoError(t, stream.Open(ctx, "T"))
	defer stream.Close()

	for _, entry := range stream.Entries() {
		require.True(t, entry.IsRead)
	}
	latest, err := f.db.LatestMessage(ctx, "T")
	require.NoError(t, err)
	require.True(t, latest.IsRead)
	thread, err := f.db.GetThread(ctx, "T")
	require.NoError(t, err)
	require.True(t, thread.IsRead)
}

func TestStream_OpenFailure(t *testing.T) {
	f := newFixture(t)
	f.faulty.Fail(storetest.OpListMessages, errors.New("locked"))
	stream := New(f.faulty, Options{Feed: f.feed})

	require.Error(t, stream.Open(context.Background(), "T"))
	require.Equal(t, StateClosed, stream.State())
	require.Zero(t, f.publisher.SubscriberCount())
}

func TestStream_CloseUnsubscribes(t *testing.T) {
	f := newFixture(t)
	stream := New(f.db, Options{Feed: f.feed})
	ctx := context.Background()
	require.NoError(t, stream.Open(ctx, "T"))
	require.Equal(t, 1, f.publisher.SubscriberCount())

	stream.Close()
	require.Equal(t, StateClosed, stream.State())
	require.Empty(t, stream.ThreadID())
	require.Nil(t, stream.Entries())
	require.Zero(t, f.publisher.SubscriberCount())

	// Reopening on another thread starts fresh.
	require.NoError(t, stream.Open(ctx, "other"))
	defer stream.Close()
	require.Empty(t, stream.Entries())
	require.Equal(t, "other", stream.ThreadID())
}
