package policies

import (
	"context"

	"marketplace/internal/app/dto"
)

// ChatNotifier pushes chat state changes to live connections. Delivery is best effort;
// an error is logged by the caller and never fails the originating operation.
type ChatNotifier interface {
	MessageCreated(ctx context.Context, conv dto.Conversation, msg dto.Message) error
	MessagesRead(ctx context.Context, receipt dto.ReadReceipt) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) MessageCreated(context.Context, dto.Conversation, dto.Message) error { return nil }
func (NopNotifier) MessagesRead(context.Context, dto.ReadReceipt) error { return nil }

var _ ChatNotifier = NopNotifier{}
