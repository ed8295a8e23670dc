// Package chatclient talks to the marketplace chat API over REST and the
// realtime socket, and keeps a client-side mirror of chat state.
package chatclient

import (
	"encoding/json"
	"time"
)

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

type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Avatar    string     `json:"avatar,omitempty"`
	Roles     []string   `json:"roles"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type AuthResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LastMessage struct {
	ID        string    `json:"id,omitempty"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID           string       `json:"id"`
	Participants []string     `json:"participants"`
	ListingID    string       `json:"listingId,omitempty"`
	ServiceID    string       `json:"serviceId,omitempty"`
	LastMessage  *LastMessage `json:"lastMessage"`
	UnreadCount  int          `json:"unreadCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Counterpart returns the participant that is not self.
func (c Conversation) Counterpart(self string) string {
	for _, p := range c.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Content        string     `json:"content"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	Updated        int       `json:"updated"`
	ReadAt         time.Time `json:"readAt"`
}

type Presence struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Event is one frame received from the socket.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type MessageEvent struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

type ReadEvent struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ServerError is an "error" frame sent by the gateway.
type ServerError struct {
	Message string `json:"message"`
}

func (e *ServerError) Error() string { return "chat: server error: " + e.Message }
