package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/middleware"
	"marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

const sendMessageKey = "chat.message.send"

// Transport names the channel a command arrived on; used for metrics only.
const (
	TransportREST   = "rest"
	TransportSocket = "socket"
)

type SendMessageCommand struct {
	ActorID         string `validate:"required"`
	ConversationID  string `validate:"required,max=128"`
	Content         string
	Transport       string `validate:"omitempty,oneof=rest socket"`
	IdempotencyKeyV string `validate:"omitempty,max=200"`
}

func (c SendMessageCommand) Key() string            { return sendMessageKey }
func (c SendMessageCommand) Actor() string          { return c.ActorID }
func (c SendMessageCommand) IdempotencyKey() string { return c.IdempotencyKeyV }
func (c SendMessageCommand) ResultPrototype() any   { return &dto.SentMessage{} }

// SentCounter counts delivered sends per transport.
type SentCounter interface {
	MessageSent(transport string)
}

// SendMessageHandler appends a message, refreshes the conversation snapshot and fans
// the message out. Append and fan-out are serialized per conversation so that room
// order matches store order.
type SendMessageHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
	Notifier      policies.ChatNotifier
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Locks         *KeyedMutex
	MaxLength     int
	IDs           func() string
	Clock         func() time.Time
	Counter       SentCounter
	Logger        *slog.Logger
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*dto.SentMessage, error) {
	if h.Conversations == nil || h.Messages == nil {
		return nil, errors.New("chat: send message handler not configured")
	}
	if h.Locks != nil {
		unlock := h.Locks.Lock(cmd.ConversationID)
		defer unlock()
	}

	conv, err := loadForParticipant(ctx, h.Conversations, cmd.ConversationID, cmd.ActorID)
	if err != nil {
		return nil, err
	}
	now := nowFrom(h.Clock).Truncate(time.Millisecond)
	if last := conv.LastMessage; last != nil && now.Before(last.CreatedAt) {
		now = last.CreatedAt
	}
	msg, err := messages.New(conv, messages.CreateParams{
		ID:        messages.ID(h.newID()),
		SenderID:  domainuser.ID(cmd.ActorID),
		Content:   cmd.Content,
		MaxLength: h.MaxLength,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	snapshot := msg.Snapshot()
	conv.Touch(snapshot)
	if err := h.Conversations.TouchLastMessage(ctx, conv.ID, snapshot); err != nil && h.Logger != nil {
		h.Logger.Warn("failed to update last message snapshot", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}
	if err := outbox.Drain(ctx, h.Outbox, h.Encoder, msg); err != nil {
		return nil, err
	}

	result := &dto.SentMessage{
		Message:      dto.MapMessage(msg),
		Conversation: dto.MapConversation(conv, 0),
	}
	if h.Notifier != nil {
		if err := h.Notifier.MessageCreated(ctx, result.Conversation, result.Message); err != nil && h.Logger != nil {
			h.Logger.Warn("realtime fan-out failed", "conversation_id", conv.ID, "message_id", msg.ID, "error", err)
		}
	}
	if h.Counter != nil {
		h.Counter.MessageSent(transportOrDefault(cmd.Transport))
	}
	return result, nil
}

func (h *SendMessageHandler) newID() string {
	if h.IDs != nil {
		return h.IDs()
	}
	return NewMessageID()
}

func transportOrDefault(t string) string {
	if t == "" {
		return TransportREST
	}
	return t
}

var _ commands.Handler[SendMessageCommand, *dto.SentMessage] = (*SendMessageHandler)(nil)
var _ middleware.IdempotentCommand = SendMessageCommand{}
