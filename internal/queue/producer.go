// Package queue carries domain events over NATS JetStream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/intelliguard/internal/models"
)

const (
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"
)

// eventsStream keeps events for late websocket consumers and de-duplicates
// republished events by id.
var eventsStream = jetstream.StreamConfig{
	Name:        EventsStreamName,
	Subjects:    []string{EventsSubjectBase + ".>"},
	Retention:   jetstream.LimitsPolicy,
	MaxAge:      24 * time.Hour,
	MaxMsgs:     1000000,
	Storage:     jetstream.FileStorage,
	Discard:     jetstream.DiscardOld,
	Duplicates:  2 * time.Minute,
	Description: "Custody and enrollment events",
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the events stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, eventsStream)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", eventsStream.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", eventsStream.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", eventsStream.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishEvent publishes ev on its subject. The event id doubles as the
// JetStream message id, so a retried publish is stored once.
func (p *Producer) PublishEvent(ctx context.Context, ev models.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.js.Publish(pubCtx, ev.Subject(), payload, jetstream.WithMsgID(ev.ID.String())); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}

func encodeEvent(ev models.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func decodeEvent(data []byte) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("unmarshal event: missing type")
	}
	return ev, nil
}
