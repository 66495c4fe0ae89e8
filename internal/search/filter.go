package search

import (
	"github.com/tOgg1/threadline/internal/models"
)

// Predicate selects conversations.
type Predicate func(models.Conversation) bool

// Predicates returns filter's predicates in evaluation order: urgency, role,
// date range, read status. Unset filters contribute nothing.
func Predicates(filter models.Filter) []Predicate {
	var preds []Predicate

	if filter.UrgentOnly {
		preds = append(preds, func(c models.Conversation) bool { return c.IsUrgent })
	}
	// Both role toggles intersect to an empty result.
	if filter.ClientsOnly {
		preds = append(preds, func(c models.Conversation) bool { return c.PartnerRole == models.RoleClient })
	}
	if filter.PartnersOnly {
		preds = append(preds, func(c models.Conversation) bool { return c.PartnerRole == models.RolePartner })
	}
	if !filter.DateRange.IsZero() {
		r := filter.DateRange
		preds = append(preds, func(c models.Conversation) bool { return r.Contains(c.Timestamp) })
	}
	switch filter.ReadStatus {
	case models.ReadStatusRead:
		preds = append(preds, func(c models.Conversation) bool { return c.UnreadCount == 0 })
	case models.ReadStatusUnread:
		preds = append(preds, func(c models.Conversation) bool { return c.UnreadCount > 0 })
	}

	return preds
}

// Apply returns the conversations satisfying every predicate of filter, in
// input order. Search text is not applied.
func Apply(conversations []models.Conversation, filter models.Filter) []models.Conversation {
	preds := Predicates(filter)
	if len(preds) == 0 {
		return conversations
	}

	out := make([]models.Conversation, 0, len(conversations))
next:
	for _, conv := range conversations {
		for _, pred := range preds {
			if !pred(conv) {
				continue next
			}
		}
		out = append(out, conv)
	}
	return out
}
