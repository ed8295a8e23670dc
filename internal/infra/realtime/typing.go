package realtime

import (
	"sync"
	"time"
)

type typingKey struct {
	connID         string
	conversationID string
}

type typingEntry struct {
	userID string
	timer  *time.Timer
}

// Typing owns typing indicator timeouts per (connection, conversation).
// Every started indicator ends with exactly one stop, whether explicit,
// expired or caused by a send or a disconnect. Transitions and their emits
// happen under one lock so a stale expiry never lands after a new start.
type Typing struct {
	ttl  time.Duration
	emit func(event, userID, conversationID string)

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

func NewTyping(ttl time.Duration, emit func(event, userID, conversationID string)) *Typing {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if emit == nil {
		emit = func(string, string, string) {}
	}
	return &Typing{ttl: ttl, emit: emit, entries: make(map[typingKey]*typingEntry)}
}

// Start arms or re-arms the timer and reports whether the indicator is new.
// Only a new indicator emits typing:start.
func (t *Typing) Start(connID, userID, conversationID string) bool {
	key := typingKey{connID: connID, conversationID: conversationID}
	entry := &typingEntry{userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed := t.entries[key]
	if existed {
		prev.timer.Stop()
	}
	t.entries[key] = entry
	entry.timer = time.AfterFunc(t.ttl, func() { t.expire(key, entry) })
	if !existed {
		t.emit(EventTypingStart, userID, conversationID)
	}
	return !existed
}

// Stop clears the indicator, emitting typing:stop, and reports whether one was active.
func (t *Typing) Stop(connID, conversationID string) bool {
	key := typingKey{connID: connID, conversationID: conversationID}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	t.emit(EventTypingStop, entry.userID, conversationID)
	return true
}

// StopAll clears every indicator of connID and returns their conversations.
func (t *Typing) StopAll(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for key, entry := range t.entries {
		if key.connID != connID {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		t.emit(EventTypingStop, entry.userID, key.conversationID)
		out = append(out, key.conversationID)
	}
	return out
}

func (t *Typing) expire(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.entries[key]
	if !ok || current != entry {
		return
	}
	delete(t.entries, key)
	t.emit(EventTypingStop, entry.userID, key.conversationID)
}

// Active counts running indicators.
func (t *Typing) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
