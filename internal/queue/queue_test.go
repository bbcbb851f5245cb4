package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/your-org/intelliguard/internal/models"
)

func TestEventCodec(t *testing.T) {
	entered := time.Date(2026, 1, 15, 10, 15, 0, 0, time.UTC)
	ev := models.NewEvent(models.EventCheckIn, "100")
	ev.Record = &models.CustodyRecord{
		ID:        7,
		Identity:  "100",
		ItemType:  "laptop",
		ImageRef:  "belongings/100/20260115/laptop_101500_ab12cd34.jpg",
		EnteredAt: entered,
		Status:    models.StatusDelivered,
	}

	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if !strings.Contains(string(data), `"status":"ENTREGADO"`) {
		t.Errorf("status not encoded as its ledger value: %s", data)
	}

	got, err := decodeEvent(data)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if got.ID != ev.ID || got.Type != ev.Type || got.Identity != "100" {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.Record == nil || got.Record.ID != 7 || !got.Record.EnteredAt.Equal(entered) {
		t.Errorf("record mismatch: %+v", got.Record)
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	for _, payload := range []string{`not json`, `{}`, `{"identity":"100"}`} {
		if _, err := decodeEvent([]byte(payload)); err == nil {
			t.Errorf("decodeEvent(%s): expected error", payload)
		}
	}
}

func TestEventSubjectsMatchStream(t *testing.T) {
	for _, typ := range []models.EventType{models.EventCheckIn, models.EventCheckOut, models.EventEnrollment} {
		subject := models.NewEvent(typ, "100").Subject()
		if !strings.HasPrefix(subject, EventsSubjectBase+".") {
			t.Errorf("subject %q outside stream %v", subject, eventsStream.Subjects)
		}
	}
}
