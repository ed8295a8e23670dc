package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/infra/realtime"
)

func TestProducerPublishSetsKeyAndHeaders(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "message.events.v1", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "conv-1", string(key))
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "content-type", string(msg.Headers[0].Key))
		return nil
	})
	p := NewProducerFrom(sp)
	t.Cleanup(func() { _ = p.Close() })

	err := p.Publish(context.Background(), "message.events.v1", "conv-1", []byte(`{}`), map[string]string{"content-type": "application/json"})
	require.NoError(t, err)
}

func TestProducerPublishHonoursCancelledContext(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	p := NewProducerFrom(mocks.NewSyncProducer(t, cfg))
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil, nil), context.Canceled)
}

func TestFanoutPublishEncodesDelivery(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	frame, err := realtime.Encode(realtime.EventUserOnline, "alice")
	require.NoError(t, err)
	want := realtime.Delivery{Target: realtime.TargetAll, Exclude: "alice", Frame: frame}

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "chat.fanout.v1", msg.Topic)
		assert.Nil(t, msg.Key)
		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var got realtime.Delivery
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, want.Target, got.Target)
		assert.Equal(t, want.Exclude, got.Exclude)
		assert.JSONEq(t, string(want.Frame), string(got.Frame))
		return nil
	})
	bus := NewFanoutBus(NewProducerFrom(sp), FanoutConfig{Brokers: []string{"unused:9092"}, Topic: "chat.fanout.v1"}, nil)
	require.NoError(t, bus.Publish(context.Background(), want))
	require.NoError(t, sp.Close())
}

func TestDeliveryHandlerDecodes(t *testing.T) {
	var got []realtime.Delivery
	h := DeliveryHandler(func(d realtime.Delivery) { got = append(got, d) })

	raw, err := json.Marshal(realtime.Delivery{Target: realtime.TargetRoom, Key: "conv", Frame: json.RawMessage(`{"event":"message:new"}`)})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: raw}))
	assert.Error(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("nope")}))

	require.Len(t, got, 1)
	assert.Equal(t, "conv", got[0].Key)
}

func TestConstructorsRequireBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
	_, err = NewConsumer(nil, "g", nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}
