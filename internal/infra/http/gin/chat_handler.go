package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	chatapp "marketplace/internal/app/handlers/chat"
	"marketplace/internal/app/queries"
)

// ChatHandler exposes conversations and messages over REST. Every route sits behind requireAuth.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type startConversationRequest struct {
	ListingID   string `json:"listingId"`
	ServiceID   string `json:"serviceId"`
	OtherUserID string `json:"otherUserId"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h ChatHandler) StartConversation(c *gin.Context) {
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := commands.Dispatch[chatapp.StartConversationCommand, *dto.StartedConversation](c.Request.Context(), h.Commands, chatapp.StartConversationCommand{
		ActorID:     actorID(c),
		ListingID:   req.ListingID,
		ServiceID:   req.ServiceID,
		OtherUserID: req.OtherUserID,
	})
	if err != nil {
		respondChatError(c, h.Logger, "start conversation", err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondOK(c, status, result.Conversation)
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	result, err := queries.Ask[chatapp.ListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries, chatapp.ListConversationsQuery{
		UserID: actorID(c),
	})
	if err != nil {
		respondChatError(c, h.Logger, "list conversations", err)
		return
	}
	respondOK(c, http.StatusOK, result.Items)
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	result, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries, chatapp.GetConversationQuery{
		ConversationID: c.Param("id"),
		UserID:         actorID(c),
	})
	if err != nil {
		respondChatError(c, h.Logger, "get conversation", err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// ListMessages returns one history page oldest first and marks the page's
// counterpart messages read.
func (h ChatHandler) ListMessages(c *gin.Context) {
	result, err := queries.Ask[chatapp.ListMessagesQuery, dto.MessagePage](c.Request.Context(), h.Queries, chatapp.ListMessagesQuery{
		ConversationID: c.Param("id"),
		UserID:         actorID(c),
		Page:           queryInt(c, "page", 1),
		Limit:          queryInt(c, "limit", 0),
	})
	if err != nil {
		respondChatError(c, h.Logger, "list messages", err)
		return
	}
	respondPage(c, result.Items, result.Pagination)
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "invalid request")
		return
	}
	result, err := commands.Dispatch[chatapp.SendMessageCommand, *dto.SentMessage](c.Request.Context(), h.Commands, chatapp.SendMessageCommand{
		ActorID:         actorID(c),
		ConversationID:  c.Param("id"),
		Content:         req.Content,
		Transport:       chatapp.TransportREST,
		IdempotencyKeyV: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		respondChatError(c, h.Logger, "send message", err)
		return
	}
	respondOK(c, http.StatusCreated, result.Message)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	result, err := commands.Dispatch[chatapp.MarkReadCommand, *dto.ReadReceipt](c.Request.Context(), h.Commands, chatapp.MarkReadCommand{
		ActorID:        actorID(c),
		ConversationID: c.Param("id"),
	})
	if err != nil {
		respondChatError(c, h.Logger, "mark read", err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

func (h ChatHandler) UnreadCount(c *gin.Context) {
	result, err := queries.Ask[chatapp.CountUnreadQuery, dto.UnreadCount](c.Request.Context(), h.Queries, chatapp.CountUnreadQuery{
		UserID:         actorID(c),
		ConversationID: strings.TrimSpace(c.Query("conversationId")),
	})
	if err != nil {
		respondChatError(c, h.Logger, "count unread", err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

func (h ChatHandler) Presence(c *gin.Context) {
	result, err := queries.Ask[chatapp.GetPresenceQuery, dto.Presence](c.Request.Context(), h.Queries, chatapp.GetPresenceQuery{
		UserID: c.Param("id"),
	})
	if err != nil {
		respondChatError(c, h.Logger, "get presence", err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

var _ ChatHTTP = ChatHandler{}
