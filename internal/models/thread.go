// Package models defines the core domain types for threadline.
package models

import (
	"errors"
	"strings"
	"time"
)

// Thread validation errors.
var (
	ErrInvalidSubject     = errors.New("subject is required")
	ErrInvalidPriority    = errors.New("priority must be one of low, medium, high, urgent")
	ErrInvalidPartnerName = errors.New("partner name is required")
	ErrInvalidThreadID    = errors.New("thread id is required")
)

// Priority is the urgency level of a thread.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities low < medium < high < urgent. Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return -1
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority parses a priority name case-insensitively.
func ParsePriority(value string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", ErrInvalidPriority
	}
	return p, nil
}

// Partner roles that drive the role filters.
const (
	RoleClient  = "client"
	RolePartner = "partner"
)

// Partner is the external party a thread is held with.
type Partner struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Thread is a persisted conversation between the business and a partner or client.
type Thread struct {
	// ID is the unique identifier for the thread.
	ID string `json:"id"`

	// Subject is the project name shown in the list.
	Subject string `json:"subject"`

	// Partner is the counterparty, embedded from the partner record.
	Partner Partner `json:"partner"`

	// Priority is the urgency level.
	Priority Priority `json:"priority"`

	// Status is a free-form pipeline stage label ("Design", "CAD", "Casting").
	Status string `json:"status"`

	// LastMessageAt is bumped by every message insertion.
	LastMessageAt time.Time `json:"last_message_at"`

	Pinned   bool `json:"pinned"`
	Archived bool `json:"archived"`
	IsRead   bool `json:"is_read"`

	// CreatedAt is when the thread was created.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the thread is valid for insertion.
func (t *Thread) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(t.Subject) == "" {
		validation.Add("subject", ErrInvalidSubject)
	}
	if !t.Priority.Valid() {
		validation.Add("priority", ErrInvalidPriority)
	}
	if strings.TrimSpace(t.Partner.Name) == "" {
		validation.Add("partner.name", ErrInvalidPartnerName)
	}
	return validation.Err()
}
