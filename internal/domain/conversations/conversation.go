package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/shared/events"
	"marketplace/internal/domain/user"
)

var (
	ErrNotFound            = errors.New("conversations: not found")
	ErrForbidden           = errors.New("conversations: not a participant")
	ErrDuplicate           = errors.New("conversations: already exists for anchor and participants")
	ErrParticipantRequired = errors.New("conversations: both participants are required")
	ErrIDRequired          = errors.New("conversations: id is required")

	// ErrSelfContact matches ErrForbidden under errors.Is.
	ErrSelfContact = fmt.Errorf("%w: cannot start a conversation with yourself", ErrForbidden)

	ErrInvalidAnchor  = anchors.ErrInvalidRef
	ErrAnchorNotFound = anchors.ErrNotFound
)

type ID string

// Participants is the sorted pair of users attached to a conversation.
type Participants [2]user.ID

func NewParticipants(a, b user.ID) (Participants, error) {
	a = user.ID(strings.TrimSpace(string(a)))
	b = user.ID(strings.TrimSpace(string(b)))
	if a == "" || b == "" {
		return Participants{}, ErrParticipantRequired
	}
	if a == b {
		return Participants{}, ErrSelfContact
	}
	if b < a {
		a, b = b, a
	}
	return Participants{a, b}, nil
}

// Key is the order-independent dedup key of the pair.
func (p Participants) Key() string {
	return string(p[0]) + "|" + string(p[1])
}

func (p Participants) Contains(id user.ID) bool {
	return id != "" && (p[0] == id || p[1] == id)
}

// Other returns the counterpart of id.
func (p Participants) Other(id user.ID) (user.ID, bool) {
	switch id {
	case p[0]:
		return p[1], true
	case p[1]:
		return p[0], true
	default:
		return "", false
	}
}

func (p Participants) Slice() []user.ID {
	return []user.ID{p[0], p[1]}
}

// LastMessage is the denormalized snapshot rendered in conversation lists.
type LastMessage struct {
	MessageID string
	Content   string
	SenderID  user.ID
	CreatedAt time.Time
}

type Conversation struct {
	ID           ID
	Participants Participants
	Anchor       anchors.Ref
	LastMessage  *LastMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
	events.EventRecorder
}

type CreateParams struct {
	ID          ID
	Anchor      anchors.Ref
	Initiator   user.ID
	Counterpart user.ID
	Now         time.Time
}

func New(params CreateParams) (*Conversation, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if err := params.Anchor.Validate(); err != nil {
		return nil, err
	}
	pair, err := NewParticipants(params.Initiator, params.Counterpart)
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	conv := &Conversation{
		ID:           params.ID,
		Participants: pair,
		Anchor:       params.Anchor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	conv.Record(StartedEvent{
		BaseEvent:    events.BaseEvent{Name: "conversation.started", Aggregate: string(conv.ID), Time: now},
		AnchorKind:   string(conv.Anchor.Kind),
		AnchorID:     conv.Anchor.ID,
		InitiatorID:  string(params.Initiator),
		Participants: []string{string(pair[0]), string(pair[1])},
	})
	return conv, nil
}

func (c *Conversation) IsParticipant(id user.ID) bool {
	return c.Participants.Contains(id)
}

// Authorize fails with ErrForbidden unless id takes part in the conversation.
func (c *Conversation) Authorize(id user.ID) error {
	if !c.IsParticipant(id) {
		return ErrForbidden
	}
	return nil
}

// Touch records the newest message snapshot and bumps UpdatedAt.
func (c *Conversation) Touch(snapshot LastMessage) {
	snap := snapshot
	c.LastMessage = &snap
	if snapshot.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = snapshot.CreatedAt.UTC()
	}
}

type StartedEvent struct {
	events.BaseEvent
	AnchorKind   string   `json:"anchor_kind"`
	AnchorID     string   `json:"anchor_id"`
	InitiatorID  string   `json:"initiator_id"`
	Participants []string `json:"participants"`
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*Conversation, error)
	// FindByAnchorPair returns ErrNotFound when no conversation matches.
	FindByAnchorPair(ctx context.Context, anchor anchors.Ref, pair Participants) (*Conversation, error)
	// Create returns ErrDuplicate when the (anchor, pair) key is already taken.
	Create(ctx context.Context, conv *Conversation) error
	// ListByParticipant orders by UpdatedAt, most recent first.
	ListByParticipant(ctx context.Context, userID user.ID) ([]*Conversation, error)
	TouchLastMessage(ctx context.Context, id ID, snapshot LastMessage) error
}
