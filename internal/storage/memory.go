package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/your-org/intelliguard/internal/models"
)

// MemoryLedgerStore keeps custody records in process memory. It backs tests
// and the "memory" database driver.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	records []models.CustodyRecord
	nextID  int64
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{nextID: 1}
}

func (s *MemoryLedgerStore) InsertRecord(_ context.Context, rec models.CustodyRecord, exclusive bool) (models.CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exclusive {
		if _, ok := s.latestOpen(rec.Identity, rec.ItemType); ok {
			return models.CustodyRecord{}, models.ErrAlreadyOpen
		}
	}
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, cloneRecord(rec))
	return rec, nil
}

func (s *MemoryLedgerStore) CloseLatestOpen(_ context.Context, identity, itemType string, at time.Time) (models.CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.latestOpen(identity, itemType)
	if !ok {
		return models.CustodyRecord{}, models.ErrNoOpenRecord
	}
	rec := &s.records[i]
	exited := at
	if exited.Before(rec.EnteredAt) {
		exited = rec.EnteredAt
	}
	rec.ExitedAt = &exited
	rec.Status = models.StatusReturned
	return cloneRecord(*rec), nil
}

func (s *MemoryLedgerStore) ListRecords(_ context.Context, f models.RecordFilter) ([]models.CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.CustodyRecord, 0)
	for _, r := range s.records {
		if f.Identity != nil && r.Identity != *f.Identity {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EnteredAt.Equal(out[j].EnteredAt) {
			return out[i].EnteredAt.After(out[j].EnteredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryLedgerStore) Ping(context.Context) error { return nil }

func (s *MemoryLedgerStore) Close() {}

// latestOpen finds the most recently entered open record for the key. Must
// hold s.mu.
func (s *MemoryLedgerStore) latestOpen(identity, itemType string) (int, bool) {
	best := -1
	for i, r := range s.records {
		if r.Identity != identity || r.ItemType != itemType || !r.Open() {
			continue
		}
		if best < 0 || r.EnteredAt.After(s.records[best].EnteredAt) ||
			(r.EnteredAt.Equal(s.records[best].EnteredAt) && r.ID > s.records[best].ID) {
			best = i
		}
	}
	return best, best >= 0
}

func cloneRecord(r models.CustodyRecord) models.CustodyRecord {
	if r.Description != nil {
		d := *r.Description
		r.Description = &d
	}
	if r.ExitedAt != nil {
		t := *r.ExitedAt
		r.ExitedAt = &t
	}
	return r
}
