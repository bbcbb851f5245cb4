package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/intelliguard/internal/models"
)

// EventHandler processes one decoded event. Returning an error naks the
// message for redelivery.
type EventHandler func(ctx context.Context, ev models.Event) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEvents delivers new events to handler until ctx ends. Each API
// replica passes its own consumer name so every replica sees every event.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     EventsSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				c.dispatch(ctx, msg, handler)
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg, handler EventHandler) {
	ev, err := decodeEvent(msg.Data())
	if err != nil {
		// a malformed payload never becomes valid on redelivery
		slog.Error("drop malformed event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process event error", "type", ev.Type, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
