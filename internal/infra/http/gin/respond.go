package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"marketplace/internal/app/dto"
	"marketplace/internal/app/handlers/catalog"
	"marketplace/internal/app/middleware"
	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

// envelope is the body of every /api response.
type envelope struct {
	Success    bool                    `json:"success"`
	Data       any                     `json:"data,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Errors     []middleware.FieldError `json:"errors,omitempty"`
	Pagination *dto.Pagination         `json:"pagination,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondPage(c *gin.Context, data any, page dto.Pagination) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Pagination: &page})
}

func respondFailure(c *gin.Context, status int, message string) {
	c.JSON(status, envelope{Success: false, Message: message})
}

func respondUnauthenticated(c *gin.Context) {
	respondFailure(c, http.StatusUnauthorized, "authentication required")
}

// respondChatError maps application errors onto the envelope and status code.
func respondChatError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var verr *middleware.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: verr.Error(), Errors: verr.Fields})
	case errors.Is(err, middleware.ErrUnauthenticated):
		respondUnauthenticated(c)
	case errors.Is(err, conversations.ErrForbidden),
		errors.Is(err, anchors.ErrNotOwner):
		respondFailure(c, http.StatusForbidden, forbiddenMessage(err))
	case errors.Is(err, conversations.ErrNotFound):
		respondFailure(c, http.StatusNotFound, "conversation not found")
	case errors.Is(err, anchors.ErrNotFound):
		respondFailure(c, http.StatusNotFound, "item not found")
	case errors.Is(err, domainuser.ErrNotFound):
		respondFailure(c, http.StatusNotFound, "user not found")
	case errors.Is(err, messages.ErrInvalidContent):
		respondFailure(c, http.StatusBadRequest, messages.ContentMessage(err))
	case errors.Is(err, anchors.ErrInvalidRef):
		respondFailure(c, http.StatusBadRequest, "exactly one of listingId or serviceId is required")
	case errors.Is(err, conversations.ErrParticipantRequired),
		errors.Is(err, anchors.ErrUnknownKind),
		errors.Is(err, anchors.ErrTitleRequired),
		errors.Is(err, anchors.ErrNegativePrice),
		errors.Is(err, anchors.ErrTooManyImages):
		respondFailure(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversations.ErrDuplicate):
		respondFailure(c, http.StatusConflict, "conversation already exists")
	case errors.Is(err, catalog.ErrUploaderUnavailable):
		respondFailure(c, http.StatusServiceUnavailable, "image storage unavailable")
	default:
		if logger != nil {
			logger.Error(op+" failed", "error", err, "request_id", c.GetString("request_id"))
		}
		respondFailure(c, http.StatusInternalServerError, "internal error")
	}
}

func forbiddenMessage(err error) string {
	switch {
	case errors.Is(err, conversations.ErrSelfContact):
		return "cannot start a conversation with yourself"
	case errors.Is(err, anchors.ErrNotOwner):
		return "only the owner may modify the item"
	default:
		return "not authorized"
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
