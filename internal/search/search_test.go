package search

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/threadline/internal/models"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func sample() []models.Conversation {
	return []models.Conversation{
		{ID: "1", ProjectName: "Sophia's Ring", PartnerName: "Sophia Martinez", PartnerRole: models.RoleClient,
			LastMessage: "Can we resize?", Timestamp: base, UnreadCount: 1, Priority: models.PriorityUrgent, IsUrgent: true, ProjectStatus: "CAD"},
		{ID: "2", ProjectName: "Wedding Band", PartnerName: "Goldsmith Co", PartnerRole: models.RolePartner,
			LastMessage: "Casting scheduled", Timestamp: base.Add(24 * time.Hour), Priority: models.PriorityLow, ProjectStatus: "casting"},
		{ID: "3", ProjectName: "Pendant", PartnerName: "Élodie Durand", PartnerRole: models.RoleClient,
			LastMessage: models.NoMessagesPlaceholder, Timestamp: base.Add(48 * time.Hour), Priority: models.PriorityHigh, ProjectStatus: "Design", Pinned: true},
		{ID: "4", ProjectName: "Earrings", PartnerName: "Stone Supply", PartnerRole: models.RolePartner,
			LastMessage: "Invoice attached", Timestamp: base.Add(72 * time.Hour), UnreadCount: 1, Priority: models.PriorityMedium, ProjectStatus: "Design"},
	}
}

func conversationIDs(list []models.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestSearch_Identity(t *testing.T) {
	list := sample()
	for _, q := range []string{"", "   ", "s", " é "} {
		require.Empty(t, cmp.Diff(list, Search(list, q)), "query %q", q)
	}
}

func TestSearch_FuzzyScenario(t *testing.T) {
	list := []models.Conversation{{ID: "x", ProjectName: "Sophia's Ring"}}
	require.Equal(t, []string{"x"}, conversationIDs(Search(list, "sofia ring")))
}

func TestSearch_Matches(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"ring", []string{"1", "4"}},
		{"RING", []string{"1", "4"}},
		{"sofia", []string{"1"}},
		{"elodie", []string{"3"}},
		{"goldsmth", []string{"2"}},
		{"casting", []string{"2"}},
		{"weding band", []string{"2"}},
		{"invoice", []string{"4"}},
		{"resize ring", []string{"1"}},
		{"resize earrings", nil},
		{"zzzz", nil},
	}

	list := sample()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := Search(list, tt.query)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, conversationIDs(got))
		})
	}
}

func TestSearch_SubsetInInputOrder(t *testing.T) {
	list := sample()
	got := Search(list, "d")
	require.Equal(t, conversationIDs(list), conversationIDs(got), "below min length is identity")

	got = Search(list, "an")
	for _, c := range got {
		require.Contains(t, list, c)
	}
	require.Equal(t, []string{"1", "2", "3"}, conversationIDs(got))
}

func TestEngine_Threshold(t *testing.T) {
	list := []models.Conversation{{ID: "x", ProjectName: "Sophia"}}

	strict := Engine{Threshold: 0, MinQueryLength: 2}
	require.Empty(t, strict.Search(list, "sofia"))
	require.True(t, strict.Matches(list[0], "soph"))

	loose := Engine{Threshold: 0.5, MinQueryLength: 2}
	require.True(t, loose.Matches(list[0], "sofia"))
}

func TestApply_Filters(t *testing.T) {
	list := sample()
	tests := []struct {
		name   string
		filter models.Filter
		want   []string
	}{
		{"no filter", models.Filter{}, []string{"1", "2", "3", "4"}},
		{"urgent", models.Filter{UrgentOnly: true}, []string{"1"}},
		{"clients", models.Filter{ClientsOnly: true}, []string{"1", "3"}},
		{"partners", models.Filter{PartnersOnly: true}, []string{"2", "4"}},
		{"clients and partners", models.Filter{ClientsOnly: true, PartnersOnly: true}, nil},
		{"unread", models.Filter{ReadStatus: models.ReadStatusUnread}, []string{"1", "4"}},
		{"read", models.Filter{ReadStatus: models.ReadStatusRead}, []string{"2", "3"}},
		{"all", models.Filter{ReadStatus: models.ReadStatusAll}, []string{"1", "2", "3", "4"}},
		{
			"inclusive date range",
			models.Filter{DateRange: models.DateRange{From: base.Add(24 * time.Hour), To: base.Add(48 * time.Hour)}},
			[]string{"2", "3"},
		},
		{"open-ended range", models.Filter{DateRange: models.DateRange{From: base.Add(48 * time.Hour)}}, []string{"3", "4"}},
		{"partners unread", models.Filter{PartnersOnly: true, ReadStatus: models.ReadStatusUnread}, []string{"4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(list, tt.filter)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, conversationIDs(got))
		})
	}
}

func TestEngine_Run(t *testing.T) {
	got := DefaultEngine().Run(sample(), models.Filter{ClientsOnly: true, SearchText: "pendnt"})
	require.Equal(t, []string{"3"}, conversationIDs(got))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	list := sample()
	before := models.CloneConversations(list)
	_ = Apply(list, models.Filter{UrgentOnly: true})
	_ = PartitionPinned(list)
	require.Empty(t, cmp.Diff(before, list))
}

func TestPartitionPinned_Stable(t *testing.T) {
	list := []models.Conversation{
		{ID: "a"}, {ID: "b", Pinned: true}, {ID: "c"}, {ID: "d", Pinned: true},
	}
	require.Equal(t, []string{"b", "d", "a", "c"}, conversationIDs(PartitionPinned(list)))
	require.Nil(t, PartitionPinned(nil))
}

func TestFold(t *testing.T) {
	require.Equal(t, "elodie ca", fold("Élodie Ça"))
	require.Equal(t, []string{"sophia", "s", "ring"}, tokenize(fold("Sophia's Ring")))
}
