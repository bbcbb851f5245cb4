package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"` // custody.checkin, custody.checkout, enrollment
	Identity  string             `json:"identity"`
	Timestamp string             `json:"timestamp"`
	Record    *BelongingResponse `json:"record,omitempty"`
	Samples   int                `json:"samples,omitempty"`
}
