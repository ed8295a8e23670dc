package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	"marketplace/internal/infra/realtime"
)

// FanoutBus relays realtime deliveries through one Redis pub/sub channel.
// Redis keeps publish order per client connection and Publish waits for the reply,
// so deliveries published by one goroutine arrive in order.
type FanoutBus struct {
	client  goredis.UniversalClient
	channel string
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*goredis.PubSub
}

func NewFanoutBus(client goredis.UniversalClient, prefix string, logger *slog.Logger) *FanoutBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanoutBus{client: client, channel: key(prefix, "fanout"), logger: logger}
}

func (b *FanoutBus) Publish(ctx context.Context, d realtime.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish delivery: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription before returning; go-redis re-subscribes on reconnect.
func (b *FanoutBus) Subscribe(ctx context.Context, fn func(realtime.Delivery)) error {
	var sub *goredis.PubSub
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second
	err := backoff.Retry(func() error {
		candidate := b.client.Subscribe(ctx, b.channel)
		if _, err := candidate.Receive(ctx); err != nil {
			_ = candidate.Close()
			b.logger.Warn("redis fan-out subscribe failed", "channel", b.channel, "error", err)
			return err
		}
		sub = candidate
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var d realtime.Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.Warn("dropping malformed delivery", "channel", msg.Channel, "error", err)
				continue
			}
			fn(d)
		}
	}()
	return nil
}

func (b *FanoutBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil
	return firstErr
}

var _ realtime.Bus = (*FanoutBus)(nil)
