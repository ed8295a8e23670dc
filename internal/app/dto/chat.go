package dto

import (
	"time"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
)

// Conversation is the wire shape of a conversation as seen by one participant.
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

type LastMessage struct {
	ID        string    `json:"id,omitempty"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
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

// MessagePage holds one history page in reading order (oldest first).
type MessagePage struct {
	Items      []Message  `json:"items"`
	Pagination Pagination `json:"pagination"`
	MarkedRead int        `json:"markedRead"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

type StartedConversation struct {
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
}

type SentMessage struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
}

type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	Updated        int       `json:"updated"`
	ReadAt         time.Time `json:"readAt"`
}

type UnreadCount struct {
	ConversationID string `json:"conversationId,omitempty"`
	UnreadCount    int    `json:"unreadCount"`
}

func MapConversation(conv *conversations.Conversation, unread int) Conversation {
	if conv == nil {
		return Conversation{}
	}
	out := Conversation{
		ID:           string(conv.ID),
		Participants: []string{string(conv.Participants[0]), string(conv.Participants[1])},
		UnreadCount:  unread,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	switch conv.Anchor.Kind {
	case anchors.KindListing:
		out.ListingID = conv.Anchor.ID
	case anchors.KindService:
		out.ServiceID = conv.Anchor.ID
	}
	if lm := conv.LastMessage; lm != nil {
		out.LastMessage = &LastMessage{
			ID:        lm.MessageID,
			Content:   lm.Content,
			SenderID:  string(lm.SenderID),
			CreatedAt: lm.CreatedAt,
		}
	}
	return out
}

func MapMessage(msg *messages.Message) Message {
	if msg == nil {
		return Message{}
	}
	out := Message{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Content,
		Read:           msg.Read,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ReadAt != nil {
		at := *msg.ReadAt
		out.ReadAt = &at
	}
	return out
}
