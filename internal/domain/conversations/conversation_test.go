package conversations_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/user"
)

func TestParticipantsAreOrderIndependent(t *testing.T) {
	ab, err := conversations.NewParticipants("bob", "alice")
	require.NoError(t, err)
	ba, err := conversations.NewParticipants(" alice ", "bob")
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Equal(t, "alice|bob", ab.Key())

	other, ok := ab.Other("alice")
	assert.True(t, ok)
	assert.Equal(t, user.ID("bob"), other)
	_, ok = ab.Other("carol")
	assert.False(t, ok)
	assert.False(t, ab.Contains(""))
}

func TestParticipantsRejectSelfAndBlank(t *testing.T) {
	_, err := conversations.NewParticipants("alice", "alice")
	assert.ErrorIs(t, err, conversations.ErrSelfContact)
	assert.ErrorIs(t, err, conversations.ErrForbidden)

	_, err = conversations.NewParticipants("alice", " ")
	assert.ErrorIs(t, err, conversations.ErrParticipantRequired)
}

func TestNewConversation(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))
	conv, err := conversations.New(conversations.CreateParams{
		ID:          "c1",
		Anchor:      anchors.Ref{Kind: anchors.KindService, ID: "svc"},
		Initiator:   "bob",
		Counterpart: "alice",
		Now:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, conv.CreatedAt.Location())
	assert.Nil(t, conv.LastMessage)
	require.Len(t, conv.PendingEvents(), 1)
	assert.Equal(t, "conversation.started", conv.PendingEvents()[0].EventName())

	assert.NoError(t, conv.Authorize("alice"))
	assert.ErrorIs(t, conv.Authorize("mallory"), conversations.ErrForbidden)

	_, err = conversations.New(conversations.CreateParams{ID: "c2", Initiator: "a", Counterpart: "b"})
	assert.ErrorIs(t, err, conversations.ErrInvalidAnchor)
	_, err = conversations.New(conversations.CreateParams{Anchor: anchors.Ref{Kind: anchors.KindListing, ID: "x"}, Initiator: "a", Counterpart: "b"})
	assert.ErrorIs(t, err, conversations.ErrIDRequired)
}

func TestTouchOnlyMovesUpdatedAtForward(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	conv, err := conversations.New(conversations.CreateParams{
		ID:          "c1",
		Anchor:      anchors.Ref{Kind: anchors.KindListing, ID: "bike"},
		Initiator:   "alice",
		Counterpart: "bob",
		Now:         start,
	})
	require.NoError(t, err)

	later := start.Add(time.Minute)
	conv.Touch(conversations.LastMessage{MessageID: "m2", Content: "later", SenderID: "bob", CreatedAt: later})
	assert.Equal(t, later, conv.UpdatedAt)

	conv.Touch(conversations.LastMessage{MessageID: "m1", Content: "earlier", SenderID: "alice", CreatedAt: start.Add(-time.Minute)})
	assert.Equal(t, later, conv.UpdatedAt)
}
