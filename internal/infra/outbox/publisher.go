package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	appoutbox "marketplace/internal/app/outbox"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Publisher wraps records in CloudEvents envelopes and sends them to "<aggregate>.events.v1" topics.
type Publisher struct {
	Producer    Producer
	TopicPrefix string
	Source      string
}

func (p *Publisher) PublishRecord(ctx context.Context, record appoutbox.EventRecord) error {
	if p.Producer == nil {
		return ErrWorkerNotConfigured
	}
	payload, headers, err := p.format(record)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, p.TopicFor(record.Name), record.Aggregate, payload, headers)
}

// Publish sends records in order and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, records []appoutbox.EventRecord) error {
	for _, rec := range records {
		if err := p.PublishRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) format(record appoutbox.EventRecord) ([]byte, map[string]string, error) {
	data := map[string]any{}
	if err := json.Unmarshal(record.Payload, &data); err != nil {
		return nil, nil, err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              record.ID,
		"type":            record.Name + ".v1",
		"source":          p.source(),
		"time":            record.OccurredAt,
		"subject":         record.Aggregate,
		"datacontenttype": "application/json",
		"data":            data,
	}
	if evt["id"] == "" {
		evt["id"] = uuid.NewString()
	}
	if trace, ok := record.Headers["traceparent"]; ok {
		evt["traceparent"] = trace
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
	}
	for k, v := range record.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// TopicFor maps "message.sent" to "message.events.v1".
func (p *Publisher) TopicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	return p.TopicPrefix + base + ".events.v1"
}

func (p *Publisher) source() string {
	if p.Source != "" {
		return p.Source
	}
	return "app://marketplace"
}

// LogSink stands in for a broker when none is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, records []appoutbox.EventRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, rec := range records {
		logger.DebugContext(ctx, "domain event", "name", rec.Name, "aggregate", rec.Aggregate, "id", rec.ID)
	}
	return nil
}

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")
