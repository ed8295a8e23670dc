package realtime

import (
	"encoding/json"
	"strings"

	"marketplace/internal/app/dto"
)

// Inbound and outbound event names.
const (
	EventMessageSend      = "message:send"
	EventMessageNew       = "message:new"
	EventMessageRead      = "message:read"
	EventNotification     = "notification:message"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventConversationJoin = "conversation:join"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventError            = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	Content        string `json:"content" validate:"required"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

// UnmarshalJSON also accepts a bare conversation id string, as sent by conversation:join.
func (p *ConversationPayload) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		return json.Unmarshal(data, &p.ConversationID)
	}
	type plain ConversationPayload
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = ConversationPayload(out)
	return nil
}

type MessageNewPayload struct {
	ConversationID string      `json:"conversationId"`
	Message        dto.Message `json:"message"`
}

type ReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
