package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Target selects which local connections receive a delivery.
type Target string

const (
	TargetRoom Target = "room"
	TargetUser Target = "user"
	TargetAll  Target = "all"
)

// Delivery is one encoded frame addressed to a room, a user or everyone.
// Connections of Exclude are skipped.
type Delivery struct {
	Target  Target          `json:"target"`
	Key     string          `json:"key,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Bus carries deliveries to every gateway process, this one included.
// Deliveries published by one goroutine are handed to subscribers in publish order.
type Bus interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe registers fn and returns once the subscription is live.
	Subscribe(ctx context.Context, fn func(Delivery)) error
	Close() error
}

// LocalBus delivers synchronously inside one process.
type LocalBus struct {
	mu   sync.RWMutex
	subs []func(Delivery)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subs {
		fn(d)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, fn func(Delivery)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	return nil
}

var _ Bus = (*LocalBus)(nil)
