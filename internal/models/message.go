package models

import (
	"errors"
	"strings"
	"time"
)

// Message validation errors.
var (
	ErrEmptyContent = errors.New("message content is required")
)

// Message is a single persisted communication event belonging to a thread.
// Messages are append-only; only IsRead changes after creation.
type Message struct {
	// ID is the unique identifier for the message.
	ID string `json:"id"`

	// Seq is assigned by the store and increases with every insert.
	Seq int64 `json:"seq"`

	// ThreadID references the parent thread.
	ThreadID string `json:"thread_id"`

	// SenderID is empty for system or unauthenticated senders.
	SenderID string `json:"sender_id,omitempty"`

	// Content is the message text; it may embed URLs.
	Content string `json:"content"`

	// CreatedAt is when the message was sent.
	CreatedAt time.Time `json:"created_at"`

	IsRead bool `json:"is_read"`
}

// IsSystem reports whether the message has no authenticated sender.
func (m *Message) IsSystem() bool {
	return strings.TrimSpace(m.SenderID) == ""
}

// Validate checks if the message is valid for insertion.
func (m *Message) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(m.ThreadID) == "" {
		validation.Add("thread_id", ErrInvalidThreadID)
	}
	if strings.TrimSpace(m.Content) == "" {
		validation.Add("content", ErrEmptyContent)
	}
	return validation.Err()
}
