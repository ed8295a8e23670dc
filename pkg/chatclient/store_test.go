package chatclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(t *testing.T, name string, data any) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Event{Name: name, Data: raw}
}

func seededStore() *Store {
	s := NewStore("me")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.SetConversations([]Conversation{
		{ID: "c1", Participants: []string{"me", "bob"}, UpdatedAt: base},
		{ID: "c2", Participants: []string{"carol", "me"}, UpdatedAt: base.Add(time.Minute)},
	})
	return s
}

func msg(id, conv, sender string, at time.Time) Message {
	return Message{ID: id, ConversationID: conv, SenderID: sender, Content: "text " + id, CreatedAt: at}
}

func TestStoreIncomingMessageBumpsConversation(t *testing.T) {
	s := seededStore()
	at := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("m1", "c1", "bob", at)})))

	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "m1", convs[0].LastMessage.ID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Len(t, s.Messages("c1"), 1)
}

func TestStoreDeduplicatesNotificationCopy(t *testing.T) {
	s := seededStore()
	m := msg("m1", "c1", "bob", time.Now())
	payload := MessageEvent{ConversationID: "c1", Message: m}

	require.NoError(t, s.Apply(event(t, EventMessageNew, payload)))
	require.NoError(t, s.Apply(event(t, EventNotification, payload)))

	assert.Len(t, s.Messages("c1"), 1)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreActiveConversationStaysRead(t *testing.T) {
	s := seededStore()
	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("m1", "c1", "bob", time.Now())})))
	s.Open("c1")
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, "c1", s.Active())

	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("m2", "c1", "bob", time.Now())})))
	assert.Equal(t, 0, s.UnreadCount())

	s.Close()
	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("m3", "c1", "bob", time.Now())})))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreOwnMessagesNeverCountUnread(t *testing.T) {
	s := seededStore()
	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c2", Message: msg("m1", "c2", "me", time.Now())})))
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStoreMessagesKeepChronologicalOrder(t *testing.T) {
	s := seededStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetMessages("c1", []Message{msg("b", "c1", "bob", base.Add(time.Second)), msg("a", "c1", "me", base)})
	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("c", "c1", "bob", base.Add(time.Second))})))

	var ids []string
	for _, m := range s.Messages("c1") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestStoreReadReceipts(t *testing.T) {
	s := seededStore()
	base := time.Now()
	s.SetMessages("c1", []Message{msg("m1", "c1", "me", base), msg("m2", "c1", "bob", base.Add(time.Second))})
	s.UpsertConversation(Conversation{ID: "c1", Participants: []string{"me", "bob"}, UnreadCount: 1})

	require.NoError(t, s.Apply(event(t, EventMessageRead, ReadEvent{ConversationID: "c1", ReadBy: "bob"})))
	list := s.Messages("c1")
	assert.True(t, list[0].Read)
	assert.NotNil(t, list[0].ReadAt)
	assert.False(t, list[1].Read)
	assert.Equal(t, 1, s.UnreadCount())

	require.NoError(t, s.Apply(event(t, EventMessageRead, ReadEvent{ConversationID: "c1", ReadBy: "me"})))
	assert.True(t, s.Messages("c1")[1].Read)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStoreTypingAndPresence(t *testing.T) {
	s := seededStore()
	require.NoError(t, s.Apply(event(t, EventTypingStart, TypingEvent{ConversationID: "c1", UserID: "bob"})))
	require.NoError(t, s.Apply(event(t, EventTypingStart, TypingEvent{ConversationID: "c1", UserID: "me"})))
	assert.Equal(t, []string{"bob"}, s.Typing("c1"))

	require.NoError(t, s.Apply(event(t, EventMessageNew, MessageEvent{ConversationID: "c1", Message: msg("m1", "c1", "bob", time.Now())})))
	assert.Empty(t, s.Typing("c1"))

	require.NoError(t, s.Apply(event(t, EventTypingStart, TypingEvent{ConversationID: "c1", UserID: "bob"})))
	require.NoError(t, s.Apply(event(t, EventTypingStop, TypingEvent{ConversationID: "c1", UserID: "bob"})))
	assert.Empty(t, s.Typing("c1"))

	require.NoError(t, s.Apply(event(t, EventUserOnline, "bob")))
	assert.True(t, s.Online("bob"))
	require.NoError(t, s.Apply(event(t, EventUserOffline, "bob")))
	assert.False(t, s.Online("bob"))
}

func TestStoreErrorFrames(t *testing.T) {
	s := NewStore("me")
	err := s.Apply(event(t, EventError, ServerError{Message: "not authorized"}))
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "not authorized", serverErr.Message)

	assert.Error(t, s.Apply(Event{Name: EventMessageNew}))
	assert.NoError(t, s.Apply(Event{Name: "something:else"}))
}
