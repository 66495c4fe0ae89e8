package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store/storetest"
)

var base = storetest.BaseTime

func ids(conversations []models.Conversation) []string {
	out := make([]string, len(conversations))
	for i, c := range conversations {
		out[i] = c.ID
	}
	return out
}

func TestInitials(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Sophia Martinez", "SM"},
		{"  ana   de  la rosa ", "ADLR"},
		{"élodie", "É"},
		{"", "?"},
		{"   ", "?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Initials(tt.name))
		})
	}
}

func TestBuildConversation(t *testing.T) {
	thread := models.Thread{
		ID:            "t1",
		Subject:       "Sophia's Ring",
		Partner:       models.Partner{Name: "Sophia Martinez", Role: models.RoleClient},
		Priority:      models.PriorityUrgent,
		Status:        "CAD",
		LastMessageAt: base,
		Pinned:        true,
	}

	empty := BuildConversation(thread, nil)
	require.Equal(t, models.NoMessagesPlaceholder, empty.LastMessage)
	require.Zero(t, empty.UnreadCount)
	require.Equal(t, base, empty.Timestamp)
	require.False(t, empty.HasMessages)
	require.True(t, empty.IsUrgent)
	require.True(t, empty.Pinned)
	require.Equal(t, "SM", empty.AvatarInitials)
	require.Equal(t, "CAD", empty.ProjectStatus)

	unread := BuildConversation(thread, &models.Message{Content: "Hi", CreatedAt: base.Add(time.Hour)})
	require.Equal(t, "Hi", unread.LastMessage)
	require.Equal(t, 1, unread.UnreadCount)
	require.Equal(t, base.Add(time.Hour), unread.Timestamp)

	read := BuildConversation(thread, &models.Message{Content: "Hi", IsRead: true})
	require.Zero(t, read.UnreadCount)
}

func TestFetchPage_ExactCount(t *testing.T) {
	database, _ := storetest.NewDB(t)
	for i := 0; i < 5; i++ {
		storetest.CreateThread(t, database, storetest.Thread{
			ID: fmt.Sprintf("t%d", i),
			At: base.Add(time.Duration(i) * time.Hour),
		})
	}
	storetest.AddMessage(t, database, "t4", "latest unread", base.Add(5*time.Hour), false)
	storetest.AddMessage(t, database, "t3", "read one", base.Add(4*time.Hour), true)

	agg := New(database, PerThread{Reader: database, Concurrency: 2}, Options{PageSize: 2})
	ctx := context.Background()

	page1, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"t4", "t3"}, ids(page1.Conversations))
	require.Equal(t, 5, page1.TotalCount)
	require.True(t, page1.HasMore)
	require.Equal(t, 1, page1.Conversations[0].UnreadCount)
	require.Equal(t, "latest unread", page1.Conversations[0].LastMessage)
	require.Zero(t, page1.Conversations[1].UnreadCount)

	page3, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"t0"}, ids(page3.Conversations))
	require.False(t, page3.HasMore)
	require.Equal(t, models.NoMessagesPlaceholder, page3.Conversations[0].LastMessage)
}

func TestFetchPage_FullPagePolicy(t *testing.T) {
	database, _ := storetest.NewDB(t)
	for i := 0; i < 4; i++ {
		storetest.CreateThread(t, database, storetest.Thread{ID: fmt.Sprintf("t%d", i), At: base.Add(time.Duration(i) * time.Minute)})
	}
	faulty := storetest.NewFaulty(database)
	agg := New(faulty, Batched{Reader: faulty}, Options{PageSize: 2, CountPolicy: CountFullPage})
	ctx := context.Background()

	page2, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 2, 0)
	require.NoError(t, err)
	require.Equal(t, -1, page2.TotalCount)
	require.True(t, page2.HasMore, "a full last page still reports more")

	page3, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 3, 0)
	require.NoError(t, err)
	require.Empty(t, page3.Conversations)
	require.False(t, page3.HasMore)
	require.Zero(t, faulty.Calls(storetest.OpCountThreads))
}

func TestFetchPage_ScenarioPinnedFirst(t *testing.T) {
	database, _ := storetest.NewDB(t)
	storetest.CreateThread(t, database, storetest.Thread{ID: "A", At: base.Add(time.Hour)})
	storetest.AddMessage(t, database, "A", "Hi", base.Add(time.Hour), false)
	storetest.CreateThread(t, database, storetest.Thread{ID: "B", At: base, Pinned: true})
	storetest.AddMessage(t, database, "B", "Done", base, true)

	agg := New(database, Batched{Reader: database}, Options{})
	page, err := agg.FetchPage(context.Background(), models.Filter{}, models.DefaultSort(), 1, 20)
	require.NoError(t, err)
	require.Equal(t, []string{"B", "A"}, ids(page.Conversations))
	require.Equal(t, 1, page.Conversations[1].UnreadCount)
}

func TestFetchPage_StrategiesAgree(t *testing.T) {
	database, _ := storetest.NewDB(t)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("t%d", i)
		storetest.CreateThread(t, database, storetest.Thread{ID: id, At: base})
		for j := 0; j < i; j++ {
			storetest.AddMessage(t, database, id, fmt.Sprintf("%s-%d", id, j), base.Add(time.Duration(j)*time.Minute), j%2 == 0)
		}
	}

	ctx := context.Background()
	perThread, err := New(database, PerThread{Reader: database, Concurrency: 3}, Options{}).
		FetchPage(ctx, models.Filter{}, models.DefaultSort(), 1, 10)
	require.NoError(t, err)
	batched, err := New(database, Batched{Reader: database}, Options{}).
		FetchPage(ctx, models.Filter{}, models.DefaultSort(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, perThread, batched)
}

func TestFetchPage_ErrorsAbortWholePage(t *testing.T) {
	database, _ := storetest.NewDB(t)
	storetest.CreateThread(t, database, storetest.Thread{ID: "t1"})
	storetest.CreateThread(t, database, storetest.Thread{ID: "t2"})
	faulty := storetest.NewFaulty(database)
	boom := errors.New("connection reset")
	ctx := context.Background()

	for _, op := range []storetest.Op{storetest.OpListThreads, storetest.OpCountThreads, storetest.OpLatestMessage} {
		t.Run(string(op), func(t *testing.T) {
			faulty.Heal()
			faulty.Fail(op, boom)

			agg := New(faulty, PerThread{Reader: faulty, Concurrency: 4}, Options{})
			page, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 1, 10)

			var aggErr *AggregationError
			require.ErrorAs(t, err, &aggErr)
			require.Equal(t, 1, aggErr.Page)
			require.ErrorIs(t, err, boom)
			require.Empty(t, page.Conversations)
		})
	}
}

func TestFetchPage_InvalidInput(t *testing.T) {
	database, _ := storetest.NewDB(t)
	agg := New(database, Batched{Reader: database}, Options{})
	ctx := context.Background()

	_, err := agg.FetchPage(ctx, models.Filter{}, models.DefaultSort(), 0, 10)
	require.ErrorIs(t, err, ErrInvalidPage)

	_, err = agg.FetchPage(ctx, models.Filter{}, models.Sort{Field: "color"}, 1, 10)
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
}

func TestFetchPage_Timeout(t *testing.T) {
	database, _ := storetest.NewDB(t)
	storetest.CreateThread(t, database, storetest.Thread{ID: "t1"})
	faulty := storetest.NewFaulty(database)
	release := faulty.Hold(storetest.OpListThreads)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(faulty, Batched{Reader: faulty}, Options{}).FetchPage(ctx, models.Filter{}, models.DefaultSort(), 1, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
