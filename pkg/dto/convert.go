package dto

import (
	"time"

	"github.com/your-org/intelliguard/internal/models"
)

func FromRecord(r models.CustodyRecord) BelongingResponse {
	resp := BelongingResponse{
		ID:          r.ID,
		Identity:    r.Identity,
		ItemType:    r.ItemType,
		Description: r.Description,
		ImageRef:    r.ImageRef,
		EnteredAt:   r.EnteredAt.Format(time.RFC3339Nano),
		Status:      string(r.Status),
	}
	if r.ExitedAt != nil {
		s := r.ExitedAt.Format(time.RFC3339Nano)
		resp.ExitedAt = &s
	}
	return resp
}

func FromRecords(rs []models.CustodyRecord) []BelongingResponse {
	out := make([]BelongingResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRecord(r))
	}
	return out
}

func FromEvent(ev models.Event) WSEvent {
	out := WSEvent{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Identity:  ev.Identity,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
		Samples:   ev.Samples,
	}
	if ev.Record != nil {
		r := FromRecord(*ev.Record)
		out.Record = &r
	}
	return out
}
