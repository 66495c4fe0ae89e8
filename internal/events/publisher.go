// Package events provides in-process publishing of row-change notifications.
package events

import (
	"slices"
	"sync"

	"github.com/tOgg1/threadline/internal/models"
)

// Handler is invoked for every change event that matches a subscription.
type Handler func(event models.ChangeEvent)

// Filter selects change events.
type Filter struct {
	// Tables filters by table (nil = all tables).
	Tables []models.Table

	// ThreadID restricts to events hinting at one thread. Events without a
	// thread hint always match, since they may affect any thread.
	ThreadID string
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event models.ChangeEvent) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, event.Table) {
		return false
	}
	if f.ThreadID != "" && event.ThreadID != "" && event.ThreadID != f.ThreadID {
		return false
	}
	return true
}

type subscription struct {
	filter  Filter
	handler Handler
}

// Publisher fans change events out to subscribers.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(event models.ChangeEvent)

	// Subscribe registers a handler under a caller-chosen id.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by id.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher with in-process callbacks.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish invokes matching handlers synchronously, outside the lock so a
// handler may subscribe or unsubscribe.
func (p *InMemoryPublisher) Publish(event models.ChangeEvent) {
	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
