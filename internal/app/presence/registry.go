package presence

import (
	"context"
	"sort"
	"sync"
)

// Registry maps a user to the live connection handles held by this process.
// A user may hold several handles at once (one per device or tab).
type Registry[H comparable] struct {
	mu    sync.RWMutex
	conns map[string]map[H]struct{}
}

func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{conns: make(map[string]map[H]struct{})}
}

// Set records h for userID and reports whether it is the user's first handle.
func (r *Registry[H]) Set(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[H]struct{})
		r.conns[userID] = set
	}
	if _, dup := set[h]; dup {
		return false
	}
	set[h] = struct{}{}
	return len(set) == 1
}

// Remove drops h and reports whether the user has no handle left.
// Removing an unknown handle is a no-op and reports false.
func (r *Registry[H]) Remove(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, present := set[h]; !present {
		return false
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Get returns the handles of userID; an absent user is offline.
func (r *Registry[H]) Get(userID string) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]H, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

func (r *Registry[H]) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Users lists online users in lexical order.
func (r *Registry[H]) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tracker decides presence transitions across every gateway process.
type Tracker interface {
	// Connect reports whether connID is the user's first connection anywhere.
	Connect(ctx context.Context, userID, connID string) (bool, error)
	// Refresh keeps a live connection registered; callers invoke it periodically.
	Refresh(ctx context.Context, userID, connID string) error
	// Disconnect reports whether the user has no connection left anywhere.
	Disconnect(ctx context.Context, userID, connID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// LocalTracker is the single-process Tracker.
type LocalTracker struct {
	reg *Registry[string]
}

func NewLocalTracker() *LocalTracker {
	return &LocalTracker{reg: NewRegistry[string]()}
}

func (t *LocalTracker) Connect(_ context.Context, userID, connID string) (bool, error) {
	return t.reg.Set(userID, connID), nil
}

// Refresh is a no-op: local entries live until Disconnect.
func (t *LocalTracker) Refresh(context.Context, string, string) error {
	return nil
}

func (t *LocalTracker) Disconnect(_ context.Context, userID, connID string) (bool, error) {
	return t.reg.Remove(userID, connID), nil
}

func (t *LocalTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	return t.reg.Online(userID), nil
}

var _ Tracker = (*LocalTracker)(nil)
