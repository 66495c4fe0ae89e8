package models

import (
	"fmt"
	"strings"
	"time"
)

// ReadStatus selects the read-state tab.
type ReadStatus string

const (
	ReadStatusAll    ReadStatus = "all"
	ReadStatusRead   ReadStatus = "read"
	ReadStatusUnread ReadStatus = "unread"
)

// ParseReadStatus parses a read-state tab name; empty means all.
func ParseReadStatus(value string) (ReadStatus, error) {
	switch ReadStatus(strings.ToLower(strings.TrimSpace(value))) {
	case "", ReadStatusAll:
		return ReadStatusAll, nil
	case ReadStatusRead:
		return ReadStatusRead, nil
	case ReadStatusUnread:
		return ReadStatusUnread, nil
	default:
		return "", fmt.Errorf("invalid read status %q (want all, read, unread)", value)
	}
}

// DateRange is an inclusive interval. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls inside the range, both ends inclusive.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filter is the list filter state. It is passed explicitly to every call.
type Filter struct {
	SearchText   string     `json:"search_text,omitempty"`
	UrgentOnly   bool       `json:"urgent_only,omitempty"`
	ClientsOnly  bool       `json:"clients_only,omitempty"`
	PartnersOnly bool       `json:"partners_only,omitempty"`
	DateRange    DateRange  `json:"date_range,omitempty"`
	ReadStatus   ReadStatus `json:"read_status,omitempty"`
}

// SortField selects the primary sort key.
type SortField string

const (
	SortByLastMessageAt SortField = "last_message_at"
	SortByPriority      SortField = "priority"
	SortByStatus        SortField = "status"
	SortByPartnerName   SortField = "partner_name"
)

// SortOrder is the sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sort is the list sort state.
type Sort struct {
	Field SortField `json:"field"`
	Order SortOrder `json:"order"`
}

// DefaultSort lists the most recently active conversations first.
func DefaultSort() Sort {
	return Sort{Field: SortByLastMessageAt, Order: SortDesc}
}

// Normalize fills empty fields with defaults.
func (s Sort) Normalize() Sort {
	if s.Field == "" {
		s.Field = SortByLastMessageAt
	}
	if s.Order == "" {
		s.Order = SortDesc
	}
	return s
}

// Validate checks the field and order against the supported values.
func (s Sort) Validate() error {
	switch s.Field {
	case SortByLastMessageAt, SortByPriority, SortByStatus, SortByPartnerName:
	default:
		return fmt.Errorf("unsupported sort field %q", s.Field)
	}
	switch s.Order {
	case SortAsc, SortDesc:
	default:
		return fmt.Errorf("unsupported sort order %q", s.Order)
	}
	return nil
}
