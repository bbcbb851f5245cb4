package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCheckIn    EventType = "custody.checkin"
	EventCheckOut   EventType = "custody.checkout"
	EventEnrollment EventType = "enrollment"
)

// Event is published to NATS after a state change and relayed to websocket
// clients.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      EventType      `json:"type"`
	Identity  string         `json:"identity"`
	Timestamp time.Time      `json:"timestamp"`
	Record    *CustodyRecord `json:"record,omitempty"`
	// Samples is the number of samples added by an enrollment.
	Samples int `json:"samples,omitempty"`
}

// NewEvent stamps a fresh id and the current time.
func NewEvent(t EventType, identity string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Identity:  identity,
		Timestamp: time.Now().UTC(),
	}
}

// Subject is the NATS subject the event is published on.
func (e Event) Subject() string {
	return "events." + string(e.Type)
}
