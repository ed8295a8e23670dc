package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/outbox"
	"marketplace/internal/app/policies"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	"marketplace/internal/domain/shared/events"
	domainuser "marketplace/internal/domain/user"
)

const markReadKey = "chat.conversation.read"

type MarkReadCommand struct {
	ActorID        string `validate:"required"`
	ConversationID string `validate:"required,max=128"`
}

func (c MarkReadCommand) Key() string   { return markReadKey }
func (c MarkReadCommand) Actor() string { return c.ActorID }

// MarkReadHandler flips every unread message not authored by the actor. The receipt
// is always announced to the room, even when nothing changed.
type MarkReadHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
	Notifier      policies.ChatNotifier
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Clock         func() time.Time
	Logger        *slog.Logger
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (*dto.ReadReceipt, error) {
	if h.Conversations == nil || h.Messages == nil {
		return nil, errors.New("chat: mark read handler not configured")
	}
	conv, err := loadForParticipant(ctx, h.Conversations, cmd.ConversationID, cmd.ActorID)
	if err != nil {
		return nil, err
	}
	now := nowFrom(h.Clock)
	reader := domainuser.ID(cmd.ActorID)
	updated, err := h.Messages.MarkRead(ctx, conv.ID, reader, now)
	if err != nil {
		return nil, err
	}
	if updated > 0 {
		ev := messages.NewReadEvent(conv.ID, reader, updated, now)
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, []events.DomainEvent{ev}); err != nil {
			return nil, err
		}
	}
	receipt := &dto.ReadReceipt{
		ConversationID: string(conv.ID),
		ReadBy:         cmd.ActorID,
		Updated:        updated,
		ReadAt:         now,
	}
	if h.Notifier != nil {
		if err := h.Notifier.MessagesRead(ctx, *receipt); err != nil && h.Logger != nil {
			h.Logger.Warn("read receipt fan-out failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return receipt, nil
}

var _ commands.Handler[MarkReadCommand, *dto.ReadReceipt] = (*MarkReadHandler)(nil)
