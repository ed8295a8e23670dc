package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"marketplace/internal/infra/realtime"
)

// FanoutBus relays realtime deliveries through a Kafka topic. Every gateway process
// reads the whole topic through its own consumer group. Deliveries are keyed by room
// or user so that one room keeps its order inside one partition.
type FanoutBus struct {
	producer *Producer
	brokers  []string
	topic    string
	group    string
	logger   *slog.Logger

	mu        sync.Mutex
	consumers []*Consumer
	cancel    []context.CancelFunc
}

type FanoutConfig struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

func NewFanoutBus(producer *Producer, cfg FanoutConfig, logger *slog.Logger) *FanoutBus {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.GroupPrefix
	if prefix == "" {
		prefix = "marketplace-fanout"
	}
	return &FanoutBus{
		producer: producer,
		brokers:  cfg.Brokers,
		topic:    cfg.Topic,
		group:    prefix + "-" + uuid.NewString(),
		logger:   logger,
	}
}

func (b *FanoutBus) Publish(ctx context.Context, d realtime.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := b.producer.Publish(ctx, b.topic, d.Key, payload, map[string]string{"target": string(d.Target)}); err != nil {
		return fmt.Errorf("kafka: publish delivery: %w", err)
	}
	return nil
}

// Subscribe joins a process-private consumer group from the newest offset and
// returns once partitions are assigned.
func (b *FanoutBus) Subscribe(ctx context.Context, fn func(realtime.Delivery)) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	consumer, err := NewConsumer(b.brokers, b.group, cfg, DeliveryHandler(fn), b.logger)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		if err := consumer.Run(runCtx, []string{b.topic}); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("kafka fan-out consumer stopped", "topic", b.topic, "error", err)
		}
	}()

	select {
	case <-consumer.Ready():
	case <-ctx.Done():
		cancel()
		_ = consumer.Close()
		return ctx.Err()
	case <-time.After(30 * time.Second):
		cancel()
		_ = consumer.Close()
		return fmt.Errorf("kafka: fan-out consumer %s not assigned in time", b.group)
	}

	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()
	b.logger.Info("kafka fan-out subscribed", "topic", b.topic, "group", b.group)
	return nil
}

func (b *FanoutBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancel {
		cancel()
	}
	var errs []error
	for _, c := range b.consumers {
		errs = append(errs, c.Close())
	}
	b.consumers, b.cancel = nil, nil
	return errors.Join(errs...)
}

// DeliveryHandler decodes fan-out records for fn.
func DeliveryHandler(fn func(realtime.Delivery)) MessageHandler {
	return HandlerFunc(func(_ context.Context, msg *sarama.ConsumerMessage) error {
		var d realtime.Delivery
		if err := json.Unmarshal(msg.Value, &d); err != nil {
			return fmt.Errorf("kafka: decode delivery: %w", err)
		}
		fn(d)
		return nil
	})
}

var _ realtime.Bus = (*FanoutBus)(nil)
