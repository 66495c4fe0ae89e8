package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("subject", ErrInvalidSubject)

	err := validation.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidSubject))
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("name", "partner name is required")

	validation := &ValidationErrors{}
	validation.Add("partner", nested)

	var list *ValidationErrors
	require.ErrorAs(t, validation.Err(), &list)
	require.Len(t, list.Errors, 1)
	require.Equal(t, "partner.name", list.Errors[0].Field)
}

func TestThreadValidate(t *testing.T) {
	thread := &Thread{Subject: "Sophia's Ring", Priority: PriorityHigh, Partner: Partner{Name: "Sophia Martinez", Role: RoleClient}}
	require.NoError(t, thread.Validate())

	bad := &Thread{Priority: "whenever"}
	err := bad.Validate()
	require.ErrorIs(t, err, ErrInvalidSubject)
	require.ErrorIs(t, err, ErrInvalidPriority)
	require.ErrorIs(t, err, ErrInvalidPartnerName)
}

func TestMessageValidate(t *testing.T) {
	msg := &Message{ThreadID: "t1", Content: "Hi"}
	require.NoError(t, msg.Validate())
	require.True(t, msg.IsSystem())

	err := (&Message{}).Validate()
	require.ErrorIs(t, err, ErrInvalidThreadID)
	require.ErrorIs(t, err, ErrEmptyContent)
}

func TestPriorityRankAndParse(t *testing.T) {
	require.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	require.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
	require.Less(t, PriorityHigh.Rank(), PriorityUrgent.Rank())
	require.False(t, Priority("soon").Valid())

	p, err := ParsePriority(" URGENT ")
	require.NoError(t, err)
	require.Equal(t, PriorityUrgent, p)

	_, err = ParsePriority("soon")
	require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestDateRangeInclusive(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	r := DateRange{From: from, To: to}

	require.True(t, r.Contains(from))
	require.True(t, r.Contains(to))
	require.False(t, r.Contains(from.Add(-time.Second)))
	require.False(t, r.Contains(to.Add(time.Second)))
	require.True(t, DateRange{}.Contains(from))
}

func TestSortNormalizeAndValidate(t *testing.T) {
	s := Sort{}.Normalize()
	require.Equal(t, DefaultSort(), s)
	require.NoError(t, s.Validate())
	require.Error(t, Sort{Field: "subject", Order: SortAsc}.Validate())
	require.Error(t, Sort{Field: SortByStatus, Order: "sideways"}.Validate())
}

func TestParseReadStatus(t *testing.T) {
	status, err := ParseReadStatus("")
	require.NoError(t, err)
	require.Equal(t, ReadStatusAll, status)

	status, err = ParseReadStatus("Unread")
	require.NoError(t, err)
	require.Equal(t, ReadStatusUnread, status)

	_, err = ParseReadStatus("archived")
	require.Error(t, err)
}
