package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace/internal/domain/anchors"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
)

// ConversationRepository enforces the (anchor, pair) uniqueness with a key map.
type ConversationRepository struct {
	mu     sync.RWMutex
	byID   map[conversations.ID]*conversations.Conversation
	byPair map[string]conversations.ID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byID:   make(map[conversations.ID]*conversations.Conversation),
		byPair: make(map[string]conversations.ID),
	}
}

func pairKey(anchor anchors.Ref, pair conversations.Participants) string {
	return anchor.String() + "#" + pair.Key()
}

func (r *ConversationRepository) ByID(ctx context.Context, id conversations.ID) (*conversations.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, conversations.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) FindByAnchorPair(ctx context.Context, anchor anchors.Ref, pair conversations.Participants) (*conversations.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey(anchor, pair)]
	if !ok {
		return nil, conversations.ErrNotFound
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *conversations.Conversation) error {
	if conv == nil || conv.ID == "" {
		return conversations.ErrIDRequired
	}
	key := pairKey(conv.Anchor, conv.Participants)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byPair[key]; taken {
		return conversations.ErrDuplicate
	}
	if _, taken := r.byID[conv.ID]; taken {
		return conversations.ErrDuplicate
	}
	r.byPair[key] = conv.ID
	r.byID[conv.ID] = cloneConversation(conv)
	return nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID domainuser.ID) ([]*conversations.Conversation, error) {
	r.mu.RLock()
	out := make([]*conversations.Conversation, 0)
	for _, conv := range r.byID {
		if conv.IsParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *ConversationRepository) TouchLastMessage(ctx context.Context, id conversations.ID, snapshot conversations.LastMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return conversations.ErrNotFound
	}
	conv.Touch(snapshot)
	return nil
}

func cloneConversation(c *conversations.Conversation) *conversations.Conversation {
	if c == nil {
		return nil
	}
	out := &conversations.Conversation{
		ID:           c.ID,
		Participants: c.Participants,
		Anchor:       c.Anchor,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

// MessageRepository keeps one append-only log per conversation in insertion order.
type MessageRepository struct {
	mu   sync.RWMutex
	logs map[conversations.ID][]*messages.Message
	ids  map[messages.ID]struct{}
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		logs: make(map[conversations.ID][]*messages.Message),
		ids:  make(map[messages.ID]struct{}),
	}
}

func (r *MessageRepository) Append(ctx context.Context, msg *messages.Message) error {
	if msg == nil || msg.ID == "" {
		return messages.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[msg.ID]; dup {
		return nil
	}
	r.ids[msg.ID] = struct{}{}
	r.logs[msg.ConversationID] = append(r.logs[msg.ConversationID], cloneMessage(msg))
	return nil
}

// ListPage returns newest first. Ties on CreatedAt keep append order reversed.
// Messages are cloned under the lock because MarkRead mutates them in place.
func (r *MessageRepository) ListPage(ctx context.Context, conv conversations.ID, offset, limit int) ([]*messages.Message, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.logs[conv]
	newest := make([]*messages.Message, len(log))
	for i, msg := range log {
		newest[len(log)-1-i] = msg
	}
	sort.SliceStable(newest, func(i, j int) bool {
		return newest[i].CreatedAt.After(newest[j].CreatedAt)
	})
	window := pageWindow(newest, offset, limit)
	out := make([]*messages.Message, 0, len(window))
	for _, msg := range window {
		out = append(out, cloneMessage(msg))
	}
	return out, len(log), nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conv conversations.ID, reader domainuser.ID, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for _, msg := range r.logs[conv] {
		if msg.MarkRead(reader, at) {
			updated++
		}
	}
	return updated, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conv conversations.ID, userID domainuser.ID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countUnread(r.logs[conv], userID), nil
}

func (r *MessageRepository) CountUnreadIn(ctx context.Context, convs []conversations.ID, userID domainuser.ID) (map[conversations.ID]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[conversations.ID]int, len(convs))
	for _, id := range convs {
		out[id] = countUnread(r.logs[id], userID)
	}
	return out, nil
}

func countUnread(log []*messages.Message, userID domainuser.ID) int {
	n := 0
	for _, msg := range log {
		if msg.UnreadFor(userID) {
			n++
		}
	}
	return n
}

func cloneMessage(m *messages.Message) *messages.Message {
	out := &messages.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		out.ReadAt = &at
	}
	return out
}

var (
	_ conversations.Repository = (*ConversationRepository)(nil)
	_ messages.Repository      = (*MessageRepository)(nil)
)
