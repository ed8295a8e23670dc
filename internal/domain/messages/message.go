package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/shared/events"
	"marketplace/internal/domain/user"
)

const DefaultMaxContentLength = 2000

var (
	ErrInvalidContent = errors.New("messages: invalid content")
	ErrIDRequired     = errors.New("messages: id is required")
)

type ID string

type Message struct {
	ID             ID
	ConversationID conversations.ID
	SenderID       user.ID
	Content        string
	Read           bool
	ReadAt         *time.Time
	CreatedAt      time.Time
	events.EventRecorder
}

type CreateParams struct {
	ID        ID
	SenderID  user.ID
	Content   string
	MaxLength int
	Now       time.Time
}

// ValidateContent checks the text against the length bound and returns it as sent.
// Whitespace-only text counts as empty.
func ValidateContent(content string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxContentLength
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidContent)
	}
	if utf8.RuneCountInString(content) > maxLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrInvalidContent, maxLength)
	}
	return content, nil
}

// ContentMessage returns the client-facing reason of an ErrInvalidContent failure
// without the package prefix, e.g. "content is required".
func ContentMessage(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	prefix := ErrInvalidContent.Error() + ": "
	if i := strings.Index(text, prefix); i >= 0 {
		return text[i+len(prefix):]
	}
	return "invalid content"
}

// New creates an unread message in conv. The sender must take part in conv.
func New(conv *conversations.Conversation, params CreateParams) (*Message, error) {
	if conv == nil {
		return nil, conversations.ErrNotFound
	}
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if err := conv.Authorize(params.SenderID); err != nil {
		return nil, err
	}
	content, err := ValidateContent(params.Content, params.MaxLength)
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	msg := &Message{
		ID:             params.ID,
		ConversationID: conv.ID,
		SenderID:       params.SenderID,
		Content:        content,
		CreatedAt:      now,
	}
	recipient, _ := conv.Participants.Other(params.SenderID)
	msg.Record(SentEvent{
		BaseEvent:      events.BaseEvent{Name: "message.sent", Aggregate: string(conv.ID), Time: now},
		MessageID:      string(msg.ID),
		ConversationID: string(conv.ID),
		SenderID:       string(msg.SenderID),
		RecipientID:    string(recipient),
	})
	return msg, nil
}

// Snapshot is the denormalized copy stored on the conversation.
func (m *Message) Snapshot() conversations.LastMessage {
	return conversations.LastMessage{
		MessageID: string(m.ID),
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

// MarkRead transitions the message for reader. Authors never read their own messages,
// and readAt is only set on the first transition.
func (m *Message) MarkRead(reader user.ID, at time.Time) bool {
	if m.Read || m.SenderID == reader {
		return false
	}
	stamp := at.UTC()
	m.Read = true
	m.ReadAt = &stamp
	return true
}

// UnreadFor reports whether the message counts towards userID's unread badge.
func (m *Message) UnreadFor(userID user.ID) bool {
	return !m.Read && m.SenderID != userID
}

type SentEvent struct {
	events.BaseEvent
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
}

// ReadEvent is raised when a reader transitions at least one message.
type ReadEvent struct {
	events.BaseEvent
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int    `json:"count"`
}

func NewReadEvent(conv conversations.ID, reader user.ID, count int, at time.Time) ReadEvent {
	return ReadEvent{
		BaseEvent:      events.BaseEvent{Name: "message.read", Aggregate: string(conv), Time: at.UTC()},
		ConversationID: string(conv),
		ReaderID:       string(reader),
		Count:          count,
	}
}

type Repository interface {
	Append(ctx context.Context, msg *Message) error
	// ListPage returns messages newest first together with the conversation total.
	ListPage(ctx context.Context, conv conversations.ID, offset, limit int) ([]*Message, int, error)
	// MarkRead flips every unread message not authored by reader and reports how many changed.
	MarkRead(ctx context.Context, conv conversations.ID, reader user.ID, at time.Time) (int, error)
	CountUnread(ctx context.Context, conv conversations.ID, userID user.ID) (int, error)
	CountUnreadIn(ctx context.Context, convs []conversations.ID, userID user.ID) (map[conversations.ID]int, error)
}
