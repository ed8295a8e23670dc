package chatclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store mirrors the chat state of one signed-in user and applies socket
// events to it. It is safe for concurrent use.
type Store struct {
	self string

	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
	seen          map[string]struct{}
	typing        map[string]map[string]struct{}
	online        map[string]struct{}
	active        string
}

func NewStore(self string) *Store {
	return &Store{
		self:          self,
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		seen:          make(map[string]struct{}),
		typing:        make(map[string]map[string]struct{}),
		online:        make(map[string]struct{}),
	}
}

func (s *Store) Self() string { return s.self }

// SetConversations replaces the conversation list, typically after a REST fetch.
func (s *Store) SetConversations(list []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*Conversation, len(list))
	for i := range list {
		conv := list[i]
		s.conversations[conv.ID] = &conv
	}
}

// UpsertConversation adds or replaces one conversation.
func (s *Store) UpsertConversation(conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = &conv
}

// SetMessages replaces the loaded history of a conversation. msgs may come in any order.
func (s *Store) SetMessages(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		delete(s.seen, m.ID)
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sortMessages(out)
	for _, m := range out {
		s.seen[m.ID] = struct{}{}
	}
	s.messages[conversationID] = out
}

// Open makes conversationID the active one. Opening fetches history on the
// server, which marks it read, so the local badge is cleared too.
func (s *Store) Open(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conversationID
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Apply folds one socket event into the state. An error frame is returned as
// a *ServerError; unknown events are ignored.
func (s *Store) Apply(ev Event) error {
	switch ev.Name {
	case EventMessageNew, EventNotification:
		var p MessageEvent
		if err := decodeEvent(ev, &p); err != nil {
			return err
		}
		if p.ConversationID == "" {
			p.ConversationID = p.Message.ConversationID
		}
		s.addMessage(p.ConversationID, p.Message)
	case EventMessageRead:
		var p ReadEvent
		if err := decodeEvent(ev, &p); err != nil {
			return err
		}
		s.markRead(p.ConversationID, p.ReadBy)
	case EventTypingStart, EventTypingStop:
		var p TypingEvent
		if err := decodeEvent(ev, &p); err != nil {
			return err
		}
		s.setTyping(p.ConversationID, p.UserID, ev.Name == EventTypingStart)
	case EventUserOnline, EventUserOffline:
		var userID string
		if err := decodeEvent(ev, &userID); err != nil {
			return err
		}
		s.setOnline(userID, ev.Name == EventUserOnline)
	case EventError:
		var p ServerError
		if err := decodeEvent(ev, &p); err != nil {
			return err
		}
		return &p
	}
	return nil
}

func decodeEvent(ev Event, out any) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("chat: %s: empty payload", ev.Name)
	}
	if err := json.Unmarshal(ev.Data, out); err != nil {
		return fmt.Errorf("chat: %s: %w", ev.Name, err)
	}
	return nil
}

// addMessage is idempotent per message id; the same message may arrive both
// as message:new and notification:message.
func (s *Store) addMessage(conversationID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.seen[msg.ID] = struct{}{}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	list := append(s.messages[conversationID], msg)
	sortMessages(list)
	s.messages[conversationID] = list

	if users := s.typing[conversationID]; users != nil {
		delete(users, msg.SenderID)
	}

	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	if conv.LastMessage == nil || !msg.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		conv.LastMessage = &LastMessage{ID: msg.ID, Content: msg.Content, SenderID: msg.SenderID, CreatedAt: msg.CreatedAt}
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	if msg.SenderID != s.self && !msg.Read && conversationID != s.active {
		conv.UnreadCount++
	}
}

func (s *Store) markRead(conversationID, readBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	list := s.messages[conversationID]
	for i := range list {
		m := &list[i]
		if m.Read || m.SenderID == readBy {
			continue
		}
		m.Read = true
		m.ReadAt = &now
	}
	if readBy == s.self {
		if conv, ok := s.conversations[conversationID]; ok {
			conv.UnreadCount = 0
		}
	}
}

func (s *Store) setTyping(conversationID, userID string, on bool) {
	if userID == s.self {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[conversationID]
	if on {
		if users == nil {
			users = make(map[string]struct{})
			s.typing[conversationID] = users
		}
		users[userID] = struct{}{}
		return
	}
	if users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.typing, conversationID)
		}
	}
}

func (s *Store) setOnline(userID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
}

// Conversations lists the known conversations by recent activity.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// Messages returns the loaded history, oldest first.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	out := make([]Message, len(list))
	copy(out, list)
	return out
}

// UnreadCount sums the badges of every known conversation.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, conv := range s.conversations {
		total += conv.UnreadCount
	}
	return total
}

// Typing lists who is typing in a conversation, sorted.
func (s *Store) Typing(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.typing[conversationID]))
	for id := range s.typing[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Online(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// sortMessages orders by creation time; ids break ties since they are time ordered.
func sortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return strings.Compare(list[i].ID, list[j].ID) < 0
	})
}
