package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/soehq/soe/pkg/log"
)

// WatermillBus adapts any watermill publisher/subscriber pair to the
// Broadcaster contract.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handler    Handler
	logger     *slog.Logger
}

// NewWatermillBus wraps an existing publisher/subscriber pair.
func NewWatermillBus(pub message.Publisher, sub message.Subscriber) *WatermillBus {
	return &WatermillBus{
		publisher:  pub,
		subscriber: sub,
		logger:     log.WithModule("eventbus"),
	}
}

// NewGoChannelBus returns the in-process default transport.
func NewGoChannelBus() *WatermillBus {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	return NewWatermillBus(ch, ch)
}

func (b *WatermillBus) PublishSignals(_ context.Context, executionID string, signals []string) error {
	broadcast := SignalsBroadcast{
		ID:          watermill.NewULID(),
		ExecutionID: executionID,
		Signals:     signals,
	}
	payload, err := json.Marshal(broadcast)
	if err != nil {
		return err
	}
	msg := message.NewMessage(broadcast.ID, payload)
	return b.publisher.Publish(Topic, msg)
}

func (b *WatermillBus) Handle(handler Handler) {
	b.handler = handler
}

func (b *WatermillBus) Subscribe(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var broadcast SignalsBroadcast
			if err := json.Unmarshal(msg.Payload, &broadcast); err != nil {
				b.logger.Error("failed to decode broadcast message", "error", err, "messageId", msg.UUID)
				msg.Ack()

				continue
			}

			if b.handler == nil {
				msg.Ack()

				continue
			}

			if err := b.handler(ctx, broadcast.ExecutionID, broadcast.Signals); err != nil {
				b.logger.Error("broadcast handler failed",
					"error", err,
					"executionId", broadcast.ExecutionID,
					"signals", broadcast.Signals,
				)
			}

			msg.Ack()
		}
	}()

	return nil
}

func (b *WatermillBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if interface{}(b.subscriber) != interface{}(b.publisher) {
		return b.subscriber.Close()
	}
	return nil
}
