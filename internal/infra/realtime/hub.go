package realtime

import (
	"sync"

	"marketplace/internal/app/presence"
)

// Hub tracks the connections and room memberships of this process.
type Hub struct {
	users *presence.Registry[*Conn]

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	joins map[*Conn]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users: presence.NewRegistry[*Conn](),
		rooms: make(map[string]map[*Conn]struct{}),
		joins: make(map[*Conn]map[string]struct{}),
	}
}

// Add registers c and reports whether it is the user's first local connection.
func (h *Hub) Add(c *Conn) bool {
	return h.users.Set(c.UserID, c)
}

// Remove drops c from every room and reports whether the user has no local connection left.
func (h *Hub) Remove(c *Conn) bool {
	h.mu.Lock()
	for room := range h.joins[c] {
		h.leaveLocked(c, room)
	}
	delete(h.joins, c)
	h.mu.Unlock()
	return h.users.Remove(c.UserID, c)
}

func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	joined, ok := h.joins[c]
	if !ok {
		joined = make(map[string]struct{})
		h.joins[c] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) InRoom(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Online reports whether userID has a connection on this process.
func (h *Hub) Online(userID string) bool {
	return h.users.Online(userID)
}

// Deliver enqueues d on every matching local connection and returns how many took it.
func (h *Hub) Deliver(d Delivery) int {
	frame := []byte(d.Frame)
	sent := 0
	push := func(c *Conn) {
		if d.Exclude != "" && c.UserID == d.Exclude {
			return
		}
		if c.enqueue(frame) {
			sent++
		}
	}
	switch d.Target {
	case TargetRoom:
		h.mu.RLock()
		for c := range h.rooms[d.Key] {
			push(c)
		}
		h.mu.RUnlock()
	case TargetUser:
		for _, c := range h.users.Get(d.Key) {
			push(c)
		}
	case TargetAll:
		for _, userID := range h.users.Users() {
			for _, c := range h.users.Get(userID) {
				push(c)
			}
		}
	}
	return sent
}

// CloseAll closes every local connection.
func (h *Hub) CloseAll() {
	for _, userID := range h.users.Users() {
		for _, c := range h.users.Get(userID) {
			c.Close()
		}
	}
}
