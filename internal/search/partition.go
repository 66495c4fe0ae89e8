package search

import "github.com/tOgg1/threadline/internal/models"

// PartitionPinned returns a copy with pinned conversations first. Order
// within each partition is preserved.
func PartitionPinned(conversations []models.Conversation) []models.Conversation {
	if conversations == nil {
		return nil
	}
	out := make([]models.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if conv.Pinned {
			out = append(out, conv)
		}
	}
	for _, conv := range conversations {
		if !conv.Pinned {
			out = append(out, conv)
		}
	}
	return out
}
