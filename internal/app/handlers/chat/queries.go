package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketplace/internal/app/dto"
	"marketplace/internal/app/policies"
	"marketplace/internal/app/queries"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

const (
	listConversationsKey = "chat.conversations.list"
	getConversationKey   = "chat.conversation.get"
	listMessagesKey      = "chat.messages.list"
	countUnreadKey       = "chat.unread.count"
	getPresenceKey       = "chat.presence.get"
)

type ListConversationsQuery struct {
	UserID string `validate:"required"`
}

func (q ListConversationsQuery) Key() string   { return listConversationsKey }
func (q ListConversationsQuery) Actor() string { return q.UserID }

// ListConversationsHandler lists the user's conversations, most recent activity first,
// each with the user's unread count.
type ListConversationsHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	if h.Conversations == nil || h.Messages == nil {
		return dto.ConversationList{}, errors.New("chat: list conversations handler not configured")
	}
	userID := domainuser.ID(q.UserID)
	convs, err := h.Conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return dto.ConversationList{}, err
	}
	ids := make([]conversations.ID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	unread, err := h.Messages.CountUnreadIn(ctx, ids, userID)
	if err != nil {
		return dto.ConversationList{}, err
	}
	out := dto.ConversationList{Items: make([]dto.Conversation, 0, len(convs))}
	for _, c := range convs {
		out.Items = append(out.Items, dto.MapConversation(c, unread[c.ID]))
	}
	return out, nil
}

type GetConversationQuery struct {
	ConversationID string `validate:"required,max=128"`
	UserID         string `validate:"required"`
}

func (q GetConversationQuery) Key() string   { return getConversationKey }
func (q GetConversationQuery) Actor() string { return q.UserID }

type GetConversationHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
}

func (h *GetConversationHandler) Handle(ctx context.Context, q GetConversationQuery) (dto.Conversation, error) {
	conv, err := loadForParticipant(ctx, h.Conversations, q.ConversationID, q.UserID)
	if err != nil {
		return dto.Conversation{}, err
	}
	unread := 0
	if h.Messages != nil {
		if unread, err = h.Messages.CountUnread(ctx, conv.ID, domainuser.ID(q.UserID)); err != nil {
			return dto.Conversation{}, err
		}
	}
	return dto.MapConversation(conv, unread), nil
}

// ListMessagesQuery fetches one history page. Viewing is reading: every unread message
// from the counterpart is marked read as part of the fetch.
type ListMessagesQuery struct {
	ConversationID string `validate:"required,max=128"`
	UserID         string `validate:"required"`
	Page           int    `validate:"gte=0"`
	Limit          int    `validate:"gte=0"`
}

func (q ListMessagesQuery) Key() string   { return listMessagesKey }
func (q ListMessagesQuery) Actor() string { return q.UserID }

type ListMessagesHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
	Notifier      policies.ChatNotifier
	Clock         func() time.Time
	Logger        *slog.Logger
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (dto.MessagePage, error) {
	if h.Messages == nil {
		return dto.MessagePage{}, errors.New("chat: list messages handler not configured")
	}
	conv, err := loadForParticipant(ctx, h.Conversations, q.ConversationID, q.UserID)
	if err != nil {
		return dto.MessagePage{}, err
	}
	page := messages.NewPage(q.Page, q.Limit)
	newestFirst, total, err := h.Messages.ListPage(ctx, conv.ID, page.Offset(), page.Size)
	if err != nil {
		return dto.MessagePage{}, err
	}
	items := make([]dto.Message, len(newestFirst))
	for i, msg := range newestFirst {
		items[len(newestFirst)-1-i] = dto.MapMessage(msg)
	}

	now := nowFrom(h.Clock)
	reader := domainuser.ID(q.UserID)
	marked, err := h.Messages.MarkRead(ctx, conv.ID, reader, now)
	if err != nil {
		return dto.MessagePage{}, err
	}
	if marked > 0 && h.Notifier != nil {
		receipt := dto.ReadReceipt{ConversationID: string(conv.ID), ReadBy: q.UserID, Updated: marked, ReadAt: now}
		if err := h.Notifier.MessagesRead(ctx, receipt); err != nil && h.Logger != nil {
			h.Logger.Warn("read receipt fan-out failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return dto.MessagePage{
		Items: items,
		Pagination: dto.Pagination{
			Page:  page.Number,
			Limit: page.Size,
			Total: total,
			Pages: messages.Pages(total, page.Size),
		},
		MarkedRead: marked,
	}, nil
}

// CountUnreadQuery counts one conversation when ConversationID is set, otherwise every
// conversation of the user.
type CountUnreadQuery struct {
	UserID         string `validate:"required"`
	ConversationID string `validate:"omitempty,max=128"`
}

func (q CountUnreadQuery) Key() string   { return countUnreadKey }
func (q CountUnreadQuery) Actor() string { return q.UserID }

type CountUnreadHandler struct {
	Conversations conversations.Repository
	Messages      messages.Repository
}

func (h *CountUnreadHandler) Handle(ctx context.Context, q CountUnreadQuery) (dto.UnreadCount, error) {
	if h.Conversations == nil || h.Messages == nil {
		return dto.UnreadCount{}, errors.New("chat: count unread handler not configured")
	}
	userID := domainuser.ID(q.UserID)
	if q.ConversationID != "" {
		conv, err := loadForParticipant(ctx, h.Conversations, q.ConversationID, q.UserID)
		if err != nil {
			return dto.UnreadCount{}, err
		}
		n, err := h.Messages.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return dto.UnreadCount{}, err
		}
		return dto.UnreadCount{ConversationID: string(conv.ID), UnreadCount: n}, nil
	}
	convs, err := h.Conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return dto.UnreadCount{}, err
	}
	ids := make([]conversations.ID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	perConv, err := h.Messages.CountUnreadIn(ctx, ids, userID)
	if err != nil {
		return dto.UnreadCount{}, err
	}
	total := 0
	for _, n := range perConv {
		total += n
	}
	return dto.UnreadCount{UnreadCount: total}, nil
}

type GetPresenceQuery struct {
	UserID string `validate:"required,max=128"`
}

func (q GetPresenceQuery) Key() string { return getPresenceKey }

type GetPresenceHandler struct {
	Users domainuser.Repository
}

func (h *GetPresenceHandler) Handle(ctx context.Context, q GetPresenceQuery) (dto.Presence, error) {
	if h.Users == nil {
		return dto.Presence{}, errors.New("chat: presence handler not configured")
	}
	u, err := h.Users.ByID(ctx, domainuser.ID(q.UserID))
	if err != nil {
		return dto.Presence{}, err
	}
	return dto.MapPresence(u), nil
}

var (
	_ queries.Handler[ListConversationsQuery, dto.ConversationList] = (*ListConversationsHandler)(nil)
	_ queries.Handler[GetConversationQuery, dto.Conversation]       = (*GetConversationHandler)(nil)
	_ queries.Handler[ListMessagesQuery, dto.MessagePage]           = (*ListMessagesHandler)(nil)
	_ queries.Handler[CountUnreadQuery, dto.UnreadCount]            = (*CountUnreadHandler)(nil)
	_ queries.Handler[GetPresenceQuery, dto.Presence]               = (*GetPresenceHandler)(nil)
)
