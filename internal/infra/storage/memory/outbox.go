package memory

import (
	"context"
	"sync"

	appoutbox "marketplace/internal/app/outbox"
)

// Sink receives flushed records, e.g. a logger or a broker producer.
type Sink interface {
	Publish(ctx context.Context, records []appoutbox.EventRecord) error
}

// Outbox buffers records until Flush hands them to Sink. Without a sink they are dropped.
type Outbox struct {
	Sink Sink

	mu      sync.Mutex
	records []appoutbox.EventRecord
	sent    int
}

func NewOutbox(sink Sink) *Outbox {
	return &Outbox{Sink: sink}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	batch := o.records
	o.records = nil
	o.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if o.Sink != nil {
		if err := o.Sink.Publish(ctx, batch); err != nil {
			o.mu.Lock()
			o.records = append(batch, o.records...)
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Lock()
	o.sent += len(batch)
	o.mu.Unlock()
	return nil
}

// Pending returns a copy of the records not yet flushed.
func (o *Outbox) Pending() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.records...)
}

// Sent reports how many records were flushed so far.
func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

var _ appoutbox.Outbox = (*Outbox)(nil)
