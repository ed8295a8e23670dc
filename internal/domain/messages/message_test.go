package messages_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
)

func newConversation(t *testing.T) *conversations.Conversation {
	t.Helper()
	conv, err := conversations.New(conversations.CreateParams{
		ID:          "c1",
		Anchor:      anchors.Ref{Kind: anchors.KindListing, ID: "bike"},
		Initiator:   "alice",
		Counterpart: "bob",
	})
	require.NoError(t, err)
	return conv
}

func TestValidateContent(t *testing.T) {
	got, err := messages.ValidateContent("  hi there \n", 0)
	require.NoError(t, err)
	assert.Equal(t, "  hi there \n", got, "content is stored as sent")

	_, err = messages.ValidateContent(" \t ", 0)
	assert.ErrorIs(t, err, messages.ErrInvalidContent)
	assert.Equal(t, "content is required", messages.ContentMessage(err))

	_, err = messages.ValidateContent(strings.Repeat("ж", 11), 10)
	assert.ErrorIs(t, err, messages.ErrInvalidContent)
	assert.Equal(t, "content exceeds 10 characters", messages.ContentMessage(fmt.Errorf("chat: send: %w", err)))
	_, err = messages.ValidateContent(strings.Repeat("ж", 10), 10)
	assert.NoError(t, err)
}

func TestNewMessage(t *testing.T) {
	conv := newConversation(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := messages.New(conv, messages.CreateParams{ID: "m1", SenderID: "alice", Content: " hello ", Now: at})
	require.NoError(t, err)
	assert.Equal(t, " hello ", msg.Content)
	assert.False(t, msg.Read)
	assert.Nil(t, msg.ReadAt)
	assert.Equal(t, conv.ID, msg.ConversationID)

	events := msg.PendingEvents()
	require.Len(t, events, 1)
	sent, ok := events[0].(messages.SentEvent)
	require.True(t, ok)
	assert.Equal(t, "bob", sent.RecipientID)

	snap := msg.Snapshot()
	assert.Equal(t, "m1", snap.MessageID)
	assert.Equal(t, at, snap.CreatedAt)

	_, err = messages.New(conv, messages.CreateParams{ID: "m2", SenderID: "mallory", Content: "hi"})
	assert.ErrorIs(t, err, conversations.ErrForbidden)
	_, err = messages.New(conv, messages.CreateParams{SenderID: "alice", Content: "hi"})
	assert.ErrorIs(t, err, messages.ErrIDRequired)
	_, err = messages.New(nil, messages.CreateParams{ID: "m3", SenderID: "alice", Content: "hi"})
	assert.ErrorIs(t, err, conversations.ErrNotFound)
}

func TestMarkReadIsOneWay(t *testing.T) {
	conv := newConversation(t)
	msg, err := messages.New(conv, messages.CreateParams{ID: "m1", SenderID: "alice", Content: "hi"})
	require.NoError(t, err)

	assert.True(t, msg.UnreadFor("bob"))
	assert.False(t, msg.UnreadFor("alice"))
	assert.False(t, msg.MarkRead("alice", time.Now()))

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, msg.MarkRead("bob", first))
	assert.False(t, msg.MarkRead("bob", first.Add(time.Hour)))
	require.NotNil(t, msg.ReadAt)
	assert.Equal(t, first, *msg.ReadAt)
	assert.False(t, msg.UnreadFor("bob"))
}

func TestPaging(t *testing.T) {
	assert.Equal(t, messages.Page{Number: 1, Size: messages.DefaultPageSize}, messages.NewPage(0, 0))
	assert.Equal(t, messages.MaxPageSize, messages.NewPage(1, 1000).Size)
	assert.Equal(t, 20, messages.NewPage(3, 10).Offset())

	assert.Equal(t, 0, messages.Pages(0, 50))
	assert.Equal(t, 1, messages.Pages(50, 50))
	assert.Equal(t, 2, messages.Pages(51, 50))
}
