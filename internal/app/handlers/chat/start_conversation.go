package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/outbox"
	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

const startConversationKey = "chat.conversation.start"

// StartConversationCommand gets or creates the conversation between the actor and a
// counterpart about one listing or service. When OtherUserID is empty the anchor
// owner is the counterpart.
type StartConversationCommand struct {
	ActorID     string `validate:"required"`
	ListingID   string `validate:"omitempty,max=128"`
	ServiceID   string `validate:"omitempty,max=128"`
	OtherUserID string `validate:"omitempty,max=128"`
}

func (c StartConversationCommand) Key() string   { return startConversationKey }
func (c StartConversationCommand) Actor() string { return c.ActorID }

type StartConversationHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
	Anchors       anchors.Repository
	Users         domainuser.Repository
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	IDs           func() string
	Clock         func() time.Time
	Logger        *slog.Logger
}

func (h *StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (*dto.StartedConversation, error) {
	if h.Conversations == nil || h.Anchors == nil {
		return nil, errors.New("chat: start conversation handler not configured")
	}
	ref, err := anchors.RefFrom(cmd.ListingID, cmd.ServiceID)
	if err != nil {
		return nil, conversations.ErrInvalidAnchor
	}
	actor := domainuser.ID(strings.TrimSpace(cmd.ActorID))
	other := domainuser.ID(strings.TrimSpace(cmd.OtherUserID))
	if other != "" && other == actor {
		return nil, conversations.ErrSelfContact
	}

	item, err := h.Anchors.ByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if other == "" {
		other = item.Owner
	}
	pair, err := conversations.NewParticipants(actor, other)
	if err != nil {
		return nil, err
	}
	if h.Users != nil {
		if _, err := h.Users.ByID(ctx, other); err != nil {
			return nil, err
		}
	}

	existing, err := h.Conversations.FindByAnchorPair(ctx, ref, pair)
	switch {
	case err == nil:
		return h.result(ctx, existing, actor, false)
	case !errors.Is(err, conversations.ErrNotFound):
		return nil, err
	}

	conv, err := conversations.New(conversations.CreateParams{
		ID:          conversations.ID(h.newID()),
		Anchor:      ref,
		Initiator:   actor,
		Counterpart: other,
		Now:         nowFrom(h.Clock),
	})
	if err != nil {
		return nil, err
	}
	if err := h.Conversations.Create(ctx, conv); err != nil {
		if !errors.Is(err, conversations.ErrDuplicate) {
			return nil, err
		}
		// Lost the race against a concurrent creator; the winner's row is authoritative.
		winner, findErr := h.Conversations.FindByAnchorPair(ctx, ref, pair)
		if findErr != nil {
			return nil, findErr
		}
		return h.result(ctx, winner, actor, false)
	}
	if err := outbox.Drain(ctx, h.Outbox, h.Encoder, conv); err != nil {
		return nil, err
	}
	if h.Logger != nil {
		h.Logger.Info("conversation started", "conversation_id", conv.ID, "anchor", ref.String(), "initiator", actor)
	}
	return h.result(ctx, conv, actor, true)
}

func (h *StartConversationHandler) result(ctx context.Context, conv *conversations.Conversation, viewer domainuser.ID, created bool) (*dto.StartedConversation, error) {
	unread := 0
	if !created && h.Messages != nil {
		n, err := h.Messages.CountUnread(ctx, conv.ID, viewer)
		if err != nil {
			return nil, err
		}
		unread = n
	}
	return &dto.StartedConversation{Conversation: dto.MapConversation(conv, unread), Created: created}, nil
}

func (h *StartConversationHandler) newID() string {
	if h.IDs != nil {
		return h.IDs()
	}
	return uuid.NewString()
}

var _ commands.Handler[StartConversationCommand, *dto.StartedConversation] = (*StartConversationHandler)(nil)
