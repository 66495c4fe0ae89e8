package models

import "time"

// NoMessagesPlaceholder is shown as the last message of a thread without messages.
const NoMessagesPlaceholder = "No messages yet"

// DisplayTimeLayout renders conversation timestamps in the list.
const DisplayTimeLayout = "Jan 02, 2006 15:04"

// Conversation is the denormalized list view of a thread and its latest message.
// It is a cache: it may be stale between change-feed events and is never persisted.
type Conversation struct {
	ID             string    `json:"id"`
	ProjectName    string    `json:"project_name"`
	PartnerName    string    `json:"partner_name"`
	PartnerRole    string    `json:"partner_role"`
	LastMessage    string    `json:"last_message"`
	Timestamp      time.Time `json:"timestamp"`
	UnreadCount    int       `json:"unread_count"`
	ProjectStatus  string    `json:"project_status"`
	IsUrgent       bool      `json:"is_urgent"`
	AvatarInitials string    `json:"avatar_initials"`

	Priority    Priority `json:"priority"`
	Pinned      bool     `json:"pinned"`
	Archived    bool     `json:"archived"`
	HasMessages bool     `json:"has_messages"`
}

// DisplayTimestamp formats the timestamp for the list.
func (c *Conversation) DisplayTimestamp() string {
	if c.Timestamp.IsZero() {
		return ""
	}
	return c.Timestamp.Local().Format(DisplayTimeLayout)
}

// Unread reports whether the latest message is unread.
func (c *Conversation) Unread() bool {
	return c.UnreadCount > 0
}

// CloneConversations returns a copy of the slice; Conversation has no reference fields.
func CloneConversations(in []Conversation) []Conversation {
	if in == nil {
		return nil
	}
	out := make([]Conversation, len(in))
	copy(out, in)
	return out
}
