// Package aggregator builds pages of conversation view models from the row
// store: one range query for threads plus the latest message of each.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultPageSize is the page size used when none is given.
const DefaultPageSize = 20

// ErrInvalidPage is returned for page numbers below 1.
var ErrInvalidPage = errors.New("page number must be at least 1")

// CountPolicy decides how HasMore is computed.
type CountPolicy int

const (
	// CountExact issues a count query and compares it with page*pageSize.
	CountExact CountPolicy = iota
	// CountFullPage assumes more rows exist whenever the page came back full.
	// TotalCount is reported as -1.
	CountFullPage
)

// Page is one aggregated page.
type Page struct {
	Conversations []models.Conversation
	// TotalCount is the number of matching threads, or -1 when unknown.
	TotalCount int
	HasMore    bool
}

// AggregationError wraps any failure while building a page. No partial page
// accompanies it.
type AggregationError struct {
	Page int
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate page %d: %v", e.Page, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Options configures an Aggregator.
type Options struct {
	PageSize    int
	CountPolicy CountPolicy
	Metrics     *metrics.Recorder
}

// Aggregator implements page fetching over a thread reader.
type Aggregator struct {
	threads store.ThreadReader
	latest  LatestSource
	opts    Options
	logger  zerolog.Logger
}

// New creates an Aggregator. latest must not be nil.
func New(threads store.ThreadReader, latest LatestSource, opts Options) *Aggregator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Aggregator{
		threads: threads,
		latest:  latest,
		opts:    opts,
		logger:  logging.Component("aggregator"),
	}
}

// PageSize returns the configured default page size.
func (a *Aggregator) PageSize() int {
	return a.opts.PageSize
}

// FetchPage returns page pageNumber (1-based) of non-archived threads as
// conversations. Filter predicates that map onto thread columns are pushed
// to the store; search text and read status are left to the caller.
func (a *Aggregator) FetchPage(ctx context.Context, filter models.Filter, sort models.Sort, pageNumber, pageSize int) (Page, error) {
	start := time.Now()
	page, err := a.fetchPage(ctx, filter, sort, pageNumber, pageSize)
	a.opts.Metrics.ObserveAggregation(time.Since(start), err)

	if err != nil {
		a.logger.Warn().Err(err).Int("page", pageNumber).Msg("page aggregation failed")
		return Page{}, &AggregationError{Page: pageNumber, Err: err}
	}

	a.logger.Debug().
		Int("page", pageNumber).
		Int("rows", len(page.Conversations)).
		Int("total", page.TotalCount).
		Bool("has_more", page.HasMore).
		Dur("took", time.Since(start)).
		Msg("page aggregated")
	return page, nil
}

func (a *Aggregator) fetchPage(ctx context.Context, filter models.Filter, sort models.Sort, pageNumber, pageSize int) (Page, error) {
	if pageNumber < 1 {
		return Page{}, ErrInvalidPage
	}
	if pageSize <= 0 {
		pageSize = a.opts.PageSize
	}
	sort = sort.Normalize()
	if err := sort.Validate(); err != nil {
		return Page{}, err
	}

	q := store.ThreadQuery{
		Filter: filter,
		Sort:   sort,
		Offset: (pageNumber - 1) * pageSize,
		Limit:  pageSize,
	}

	var (
		threads []models.Thread
		total   = -1
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.threads.ListThreads(gctx, q)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
		threads = rows
		return nil
	})
	if a.opts.CountPolicy == CountExact {
		g.Go(func() error {
			count, err := a.threads.CountThreads(gctx, q)
			if err != nil {
				return fmt.Errorf("count threads: %w", err)
			}
			total = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Page{}, err
	}

	latest, err := a.latest.Latest(ctx, threads)
	if err != nil {
		return Page{}, fmt.Errorf("latest messages: %w", err)
	}

	conversations := make([]models.Conversation, 0, len(threads))
	for _, thread := range threads {
		var msg *models.Message
		if m, ok := latest[thread.ID]; ok {
			msg = &m
		}
		conversations = append(conversations, BuildConversation(thread, msg))
	}

	page := Page{Conversations: conversations, TotalCount: total}
	if a.opts.CountPolicy == CountExact {
		page.HasMore = total > pageNumber*pageSize
	} else {
		page.HasMore = len(threads) == pageSize
	}
	return page, nil
}

// BuildConversation denormalizes a thread and its latest message (nil when
// the thread has none) into a view model.
func BuildConversation(thread models.Thread, latest *models.Message) models.Conversation {
	conv := models.Conversation{
		ID:             thread.ID,
		ProjectName:    thread.Subject,
		PartnerName:    thread.Partner.Name,
		PartnerRole:    thread.Partner.Role,
		LastMessage:    models.NoMessagesPlaceholder,
		Timestamp:      thread.LastMessageAt,
		ProjectStatus:  thread.Status,
		IsUrgent:       thread.Priority == models.PriorityUrgent,
		AvatarInitials: Initials(thread.Partner.Name),
		Priority:       thread.Priority,
		Pinned:         thread.Pinned,
		Archived:       thread.Archived,
	}

	if latest != nil {
		conv.LastMessage = latest.Content
		conv.Timestamp = latest.CreatedAt
		conv.HasMessages = true
		if !latest.IsRead {
			conv.UnreadCount = 1
		}
	}
	return conv
}

// Initials returns the upper-cased first letter of each whitespace-separated
// token of name, or "?" for an empty name.
func Initials(name string) string {
	var b strings.Builder
	for _, token := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(token)
		b.WriteRune(unicode.ToUpper(r))
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}
