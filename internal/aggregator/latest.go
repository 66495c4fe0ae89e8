package aggregator

import (
	"context"
	"sync"

	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
	"golang.org/x/sync/errgroup"
)

// LatestSource fetches the latest message of each thread. Threads without
// messages are absent from the result.
type LatestSource interface {
	Latest(ctx context.Context, threads []models.Thread) (map[string]models.Message, error)
}

// PerThread issues one latest-message query per thread, at most Concurrency
// at a time. The first failure cancels the remaining queries.
type PerThread struct {
	Reader      store.MessageReader
	Concurrency int
}

// Latest implements LatestSource.
func (p PerThread) Latest(ctx context.Context, threads []models.Thread) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(threads))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, thread := range threads {
		id := thread.ID
		g.Go(func() error {
			msg, err := p.Reader.LatestMessage(ctx, id)
			if err != nil {
				return err
			}
			if msg != nil {
				mu.Lock()
				latest[id] = *msg
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return latest, nil
}

// Batched fetches the latest messages of the whole page in one query.
type Batched struct {
	Reader store.BatchMessageReader
}

// Latest implements LatestSource.
func (b Batched) Latest(ctx context.Context, threads []models.Thread) (map[string]models.Message, error) {
	if len(threads) == 0 {
		return map[string]models.Message{}, nil
	}
	ids := make([]string, len(threads))
	for i, thread := range threads {
		ids[i] = thread.ID
	}
	return b.Reader.LatestMessages(ctx, ids)
}
