package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/user"
)

// loadForParticipant fetches a conversation and checks that userID takes part in it.
func loadForParticipant(ctx context.Context, repo conversations.Repository, id string, userID string) (*conversations.Conversation, error) {
	if repo == nil {
		return nil, errors.New("chat: conversation repository required")
	}
	conv, err := repo.ByID(ctx, conversations.ID(id))
	if err != nil {
		return nil, err
	}
	if err := conv.Authorize(user.ID(userID)); err != nil {
		return nil, err
	}
	return conv, nil
}

// NewMessageID returns a time-ordered id so ties on createdAt sort by insertion.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func nowFrom(clock func() time.Time) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

// KeyedMutex serializes work per key. Idle keys are released.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
