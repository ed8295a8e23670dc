package realtime

import (
	"context"
	"errors"

	"marketplace/internal/app/dto"
	"marketplace/internal/app/policies"
)

// Notifier publishes chat changes to the rooms and users that must see them.
type Notifier struct {
	Bus Bus
}

func (n *Notifier) MessageCreated(ctx context.Context, conv dto.Conversation, msg dto.Message) error {
	frame, err := Encode(EventMessageNew, MessageNewPayload{ConversationID: conv.ID, Message: msg})
	if err != nil {
		return err
	}
	errs := []error{n.Bus.Publish(ctx, Delivery{Target: TargetRoom, Key: conv.ID, Frame: frame})}

	note, err := Encode(EventNotification, MessageNewPayload{ConversationID: conv.ID, Message: msg})
	if err != nil {
		return err
	}
	for _, participant := range conv.Participants {
		if participant == msg.SenderID {
			continue
		}
		errs = append(errs, n.Bus.Publish(ctx, Delivery{Target: TargetUser, Key: participant, Frame: note}))
	}
	return errors.Join(errs...)
}

func (n *Notifier) MessagesRead(ctx context.Context, receipt dto.ReadReceipt) error {
	frame, err := Encode(EventMessageRead, ReadPayload{ConversationID: receipt.ConversationID, ReadBy: receipt.ReadBy})
	if err != nil {
		return err
	}
	return n.Bus.Publish(ctx, Delivery{Target: TargetRoom, Key: receipt.ConversationID, Frame: frame})
}

var _ policies.ChatNotifier = (*Notifier)(nil)
