package bulk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/threadline/internal/aggregator"
	"github.com/tOgg1/threadline/internal/conversation"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
	"github.com/tOgg1/threadline/internal/store/storetest"
)

var base = storetest.BaseTime

type fixture struct {
	faulty *storetest.Faulty
	list   *conversation.List
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	database, _ := storetest.NewDB(t)
	storetest.CreateThread(t, database, storetest.Thread{ID: "A", At: base})
	storetest.CreateThread(t, database, storetest.Thread{ID: "B", At: base.Add(time.Hour)})
	storetest.CreateThread(t, database, storetest.Thread{ID: "C", At: base.Add(2 * time.Hour)})
	storetest.AddMessage(t, database, "A", "Hi", base.Add(time.Minute), false)
	storetest.AddMessage(t, database, "B", "Hello", base.Add(time.Hour+time.Minute), false)

	faulty := storetest.NewFaulty(database)
	agg := aggregator.New(faulty, aggregator.Batched{Reader: faulty}, aggregator.Options{})
	list := conversation.NewList(agg, conversation.Options{})
	require.NoError(t, list.Load(context.Background(), models.Filter{}, models.DefaultSort()))
	return fixture{faulty: faulty, list: list}
}

func byID(t *testing.T, list *conversation.List, id string) models.Conversation {
	t.Helper()
	for _, conv := range list.Snapshot().Conversations {
		if conv.ID == id {
			return conv
		}
	}
	t.Fatalf("conversation %s not loaded", id)
	return models.Conversation{}
}

func ids(conversations []models.Conversation) []string {
	out := make([]string, len(conversations))
	for i, c := range conversations {
		out[i] = c.ID
	}
	return out
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"markRead", ActionMarkRead},
		{"mark-read", ActionMarkRead},
		{"MARK_UNREAD", ActionMarkUnread},
		{"pin", ActionPin},
		{"unpin", ActionUnpin},
		{" archive ", ActionArchive},
		{"unarchive", ActionUnarchive},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAction("delete")
	require.Error(t, err)
}

func TestApply_ArchiveExcludedAfterReconcile(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.faulty, f.list, nil, Options{})
	ctx := context.Background()

	result, err := coord.Apply(ctx, ActionArchive, []string{"A"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Patched)

	snap := f.list.Snapshot()
	require.Equal(t, []string{"C", "B"}, ids(snap.Conversations))
	require.Equal(t, []string{"C", "B"}, ids(f.list.View(models.Filter{ReadStatus: models.ReadStatusAll})))
	require.Equal(t, 1, f.faulty.Calls(storetest.OpUpdateThreads))
}

func TestApply_MarkReadClearsUnread(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.faulty, f.list, NewSelection("A", "B"), Options{})
	ctx := context.Background()
	require.Equal(t, 1, byID(t, f.list, "A").UnreadCount)

	_, err := coord.ApplySelection(ctx, ActionMarkRead)
	require.NoError(t, err)
	require.Zero(t, byID(t, f.list, "A").UnreadCount)
	require.Zero(t, byID(t, f.list, "B").UnreadCount)
	require.Zero(t, coord.Selection().Len())
	require.Equal(t, 1, f.faulty.Calls(storetest.OpUpdateThreads), "one batched mutation")

	require.Empty(t, f.list.View(models.Filter{ReadStatus: models.ReadStatusUnread}))

	_, err = coord.Apply(ctx, ActionMarkUnread, []string{"A", "C"})
	require.NoError(t, err)
	require.Equal(t, 1, byID(t, f.list, "A").UnreadCount)
	require.Zero(t, byID(t, f.list, "C").UnreadCount, "a thread without messages has nothing unread")
}

func TestApply_PinMovesToFront(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.faulty, f.list, nil, Options{})
	ctx := context.Background()

	_, err := coord.Apply(ctx, ActionPin, []string{"A", "A", " "})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "C", "B"}, ids(f.list.Snapshot().Conversations))

	_, err = coord.Apply(ctx, ActionUnpin, []string{"A"})
	require.NoError(t, err)
	require.Equal(t, []string{"C", "B", "A"}, ids(f.list.Snapshot().Conversations))
}

func TestApply_EmptyIsNoop(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.faulty, f.list, nil, Options{})
	listCalls := f.faulty.Calls(storetest.OpListThreads)

	result, err := coord.Apply(context.Background(), ActionArchive, nil)
	require.NoError(t, err)
	require.Empty(t, result.IDs)
	require.Zero(t, f.faulty.Calls(storetest.OpUpdateThreads))
	require.Equal(t, listCalls, f.faulty.Calls(storetest.OpListThreads))

	_, err = coord.ApplySelection(context.Background(), ActionPin)
	require.NoError(t, err)
	require.Zero(t, f.faulty.Calls(storetest.OpUpdateThreads))
}

func TestApply_FailureConfirmFirst(t *testing.T) {
	f := newFixture(t)
	coord := NewCoordinator(f.faulty, f.list, NewSelection("A"), Options{})
	ctx := context.Background()
	listCalls := f.faulty.Calls(storetest.OpListThreads)

	boom := errors.New("constraint failed")
	f.faulty.Fail(storetest.OpUpdateThreads, boom)

	result, err := coord.ApplySelection(ctx, ActionArchive)
	var mutErr *store.MutationError
	require.True(t, errors.As(err, &mutErr))
	require.Equal(t, []string{"A"}, mutErr.IDs)
	require.ErrorIs(t, err, boom)
	require.Zero(t, result.Patched, "nothing is patched before the store confirms")

	require.Zero(t, coord.Selection().Len(), "selection is cleared on failure too")
	require.Equal(t, listCalls+1, f.faulty.Calls(storetest.OpListThreads), "list is reconciled on failure")
	require.False(t, byID(t, f.list, "A").Archived)
}

func TestApply_FailureFastPathIsCorrectedByReconcile(t *testing.T) {
	f := newFixture(t)

	var seen [][]string
	list := f.list
	coord := NewCoordinator(f.faulty, patchSpy{List: list, seen: &seen}, nil, Options{OptimisticFastPath: true})
	f.faulty.Fail(storetest.OpUpdateThreads, errors.New("offline"))

	result, err := coord.Apply(context.Background(), ActionPin, []string{"A"})
	require.Error(t, err)
	require.Equal(t, 1, result.Patched, "fast path patches before the mutation")
	require.Equal(t, [][]string{{"A"}}, seen)

	require.False(t, byID(t, list, "A").Pinned, "reconcile restored the stored state")
	require.Equal(t, []string{"C", "B", "A"}, ids(list.Snapshot().Conversations))
}

type patchSpy struct {
	List
	seen *[][]string
}

func (p patchSpy) ApplyLocalPatch(ids []string, patch func(*models.Conversation)) int {
	*p.seen = append(*p.seen, append([]string(nil), ids...))
	return p.List.ApplyLocalPatch(ids, patch)
}

func TestSelection(t *testing.T) {
	s := NewSelection("b")
	s.Add("a", "")
	require.True(t, s.Toggle("c"))
	require.False(t, s.Toggle("b"))
	require.Equal(t, []string{"a", "c"}, s.IDs())
	require.True(t, s.Contains("a"))
	s.Remove("a")
	require.Equal(t, 1, s.Len())
	s.Clear()
	require.Zero(t, s.Len())
}
