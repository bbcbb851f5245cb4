package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/your-org/intelliguard/internal/models"
)

// ledgerStore is the surface shared by every custody record backend.
type ledgerStore interface {
	InsertRecord(ctx context.Context, rec models.CustodyRecord, exclusive bool) (models.CustodyRecord, error)
	CloseLatestOpen(ctx context.Context, identity, itemType string, at time.Time) (models.CustodyRecord, error)
	ListRecords(ctx context.Context, f models.RecordFilter) ([]models.CustodyRecord, error)
}

var t0 = time.Date(2026, 1, 15, 10, 15, 0, 0, time.UTC)

func openRecord(identity, itemType string, at time.Time) models.CustodyRecord {
	return models.CustodyRecord{
		Identity:  identity,
		ItemType:  itemType,
		ImageRef:  fmt.Sprintf("belongings/%s/%s.jpg", identity, itemType),
		EnteredAt: at,
		Status:    models.StatusDelivered,
	}
}

func strPtr(s string) *string { return &s }

// runLedgerStoreTests exercises one backend. newStore must return an empty
// store.
func runLedgerStoreTests(t *testing.T, newStore func(t *testing.T) ledgerStore) {
	t.Run("InsertAssignsIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := openRecord("100", "laptop", t0)
		rec.Description = strPtr("grey, sticker on lid")

		a, err := s.InsertRecord(ctx, rec, false)
		if err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		b, err := s.InsertRecord(ctx, openRecord("100", "bag", t0), false)
		if err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		if a.ID == 0 || b.ID <= a.ID {
			t.Errorf("expected increasing ids, got %d then %d", a.ID, b.ID)
		}

		got, err := s.ListRecords(ctx, models.RecordFilter{Identity: strPtr("100")})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got))
		}
		var laptop models.CustodyRecord
		for _, r := range got {
			if r.ItemType == "laptop" {
				laptop = r
			}
		}
		if laptop.Description == nil || *laptop.Description != "grey, sticker on lid" {
			t.Errorf("description not persisted: %+v", laptop)
		}
		if !laptop.EnteredAt.Equal(t0) || laptop.ExitedAt != nil || laptop.Status != models.StatusDelivered {
			t.Errorf("unexpected stored record %+v", laptop)
		}
		if laptop.ImageRef != rec.ImageRef {
			t.Errorf("image ref: got %q", laptop.ImageRef)
		}
	})

	t.Run("CloseLatestOpen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older, _ := s.InsertRecord(ctx, openRecord("100", "laptop", t0), false)
		newer, _ := s.InsertRecord(ctx, openRecord("100", "laptop", t0.Add(time.Minute)), false)

		closed, err := s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("CloseLatestOpen: %v", err)
		}
		if closed.ID != newer.ID {
			t.Fatalf("expected the most recent record %d closed, got %d", newer.ID, closed.ID)
		}
		if closed.Status != models.StatusReturned || closed.ExitedAt == nil || !closed.ExitedAt.Equal(t0.Add(time.Hour)) {
			t.Errorf("unexpected closed record %+v", closed)
		}

		closed, err = s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("CloseLatestOpen: %v", err)
		}
		if closed.ID != older.ID {
			t.Errorf("expected older record %d closed second, got %d", older.ID, closed.ID)
		}

		if _, err := s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(3*time.Hour)); !errors.Is(err, models.ErrNoOpenRecord) {
			t.Errorf("expected ErrNoOpenRecord, got %v", err)
		}
	})

	t.Run("CloseClampsExitToEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0), false); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		closed, err := s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(-time.Minute))
		if err != nil {
			t.Fatalf("CloseLatestOpen: %v", err)
		}
		if !closed.ExitedAt.Equal(closed.EnteredAt) {
			t.Errorf("expected exit clamped to %v, got %v", closed.EnteredAt, closed.ExitedAt)
		}
	})

	t.Run("CloseUnknownKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0), false); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		if _, err := s.CloseLatestOpen(ctx, "100", "bag", t0); !errors.Is(err, models.ErrNoOpenRecord) {
			t.Errorf("expected ErrNoOpenRecord for another item type, got %v", err)
		}
		if _, err := s.CloseLatestOpen(ctx, "200", "laptop", t0); !errors.Is(err, models.ErrNoOpenRecord) {
			t.Errorf("expected ErrNoOpenRecord for another identity, got %v", err)
		}
	})

	t.Run("ExclusiveInsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0), true); err != nil {
			t.Fatalf("first exclusive insert: %v", err)
		}
		if _, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0), true); !errors.Is(err, models.ErrAlreadyOpen) {
			t.Fatalf("expected ErrAlreadyOpen, got %v", err)
		}
		if _, err := s.InsertRecord(ctx, openRecord("100", "bag", t0), true); err != nil {
			t.Errorf("other item type must not conflict: %v", err)
		}
		if _, err := s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(time.Minute)); err != nil {
			t.Fatalf("CloseLatestOpen: %v", err)
		}
		if _, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0.Add(2*time.Minute)), true); err != nil {
			t.Errorf("insert after close: %v", err)
		}
	})

	t.Run("ListOrderAndFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, _ := s.InsertRecord(ctx, openRecord("100", "laptop", t0), false)
		b, _ := s.InsertRecord(ctx, openRecord("200", "bag", t0.Add(time.Minute)), false)
		c, _ := s.InsertRecord(ctx, openRecord("100", "bag", t0.Add(time.Minute)), false)
		if _, err := s.CloseLatestOpen(ctx, "100", "laptop", t0.Add(time.Hour)); err != nil {
			t.Fatalf("CloseLatestOpen: %v", err)
		}

		all, err := s.ListRecords(ctx, models.RecordFilter{})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		// same entry time: higher id first
		wantIDs := []int64{c.ID, b.ID, a.ID}
		if len(all) != len(wantIDs) {
			t.Fatalf("expected %d records, got %d", len(wantIDs), len(all))
		}
		for i, r := range all {
			if r.ID != wantIDs[i] {
				t.Errorf("position %d: got id %d, want %d", i, r.ID, wantIDs[i])
			}
		}

		returned := models.StatusReturned
		got, err := s.ListRecords(ctx, models.RecordFilter{Status: &returned})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if len(got) != 1 || got[0].ID != a.ID || got[0].ExitedAt == nil {
			t.Errorf("status filter: %+v", got)
		}

		delivered := models.StatusDelivered
		got, err = s.ListRecords(ctx, models.RecordFilter{Identity: strPtr("100"), Status: &delivered})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if len(got) != 1 || got[0].ID != c.ID {
			t.Errorf("identity+status filter: %+v", got)
		}

		got, err = s.ListRecords(ctx, models.RecordFilter{Identity: strPtr("999")})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil result, got %#v", got)
		}
	})

	t.Run("ConcurrentExclusiveInsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
			rejected int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.InsertRecord(ctx, openRecord("100", "laptop", t0), true)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					inserted++
				case errors.Is(err, models.ErrAlreadyOpen):
					rejected++
				default:
					t.Errorf("InsertRecord: %v", err)
				}
			}()
		}
		wg.Wait()
		if inserted != 1 || rejected != n-1 {
			t.Errorf("expected 1 insert and %d rejections, got %d and %d", n-1, inserted, rejected)
		}
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// Backends
// ═══════════════════════════════════════════════════════════════════════════

func TestMemoryLedgerStore(t *testing.T) {
	runLedgerStoreTests(t, func(t *testing.T) ledgerStore {
		return NewMemoryLedgerStore()
	})
}

// openTestDB returns an in-memory SQLite database with the production
// pragmas and schema. Each test gets its own database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&%s", sanitizeName(t.Name()), sqlitePragmas)
	conn, err := openSQLiteDSN(context.Background(), dsn)
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a Writer closed when the test finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *Writer {
	t.Helper()

	w := NewWriter(conn)
	t.Cleanup(w.Close)
	return w
}

func sanitizeName(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '/' || c == ' ' || c == '?' || c == '&' || c == '#' {
			out[i] = '_'
		}
	}
	return string(out)
}

func TestSQLiteLedgerStore(t *testing.T) {
	runLedgerStoreTests(t, func(t *testing.T) ledgerStore {
		conn := openTestDB(t)
		return NewSQLiteLedgerStore(conn, newTestWriter(t, conn))
	})
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	conn := openTestDB(t)
	if err := MigrateSQLite(context.Background(), conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations;").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	ms, err := loadMigrations("sqlite")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if n != len(ms) {
		t.Errorf("expected %d applied migrations, got %d", len(ms), n)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"0001_custody_records.sql", 1, false},
		{"0012_add_index.sql", 12, false},
		{"init.sql", 0, true},
		{"abc_init.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVersion(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWriter_RollsBackOnError(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ctx := context.Background()

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO custody_records(identity, item_type, image_ref, entered_at_ms, status)
VALUES ('100', 'laptop', '', 0, 'ENTREGADO');`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM custody_records;").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestWriter_DoAfterClose(t *testing.T) {
	conn := openTestDB(t)
	w := NewWriter(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, errWriterClosed) {
		t.Fatalf("expected errWriterClosed, got %v", err)
	}
}

func TestWriter_ReportsCommitDespiteCancel(t *testing.T) {
	conn := openTestDB(t)
	store := NewSQLiteLedgerStore(conn, newTestWriter(t, conn))

	const n = 300
	var ok int
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel()
		}()
		// The driver may surface an interrupted statement as its own error.
		if _, err := store.InsertRecord(ctx, openRecord(fmt.Sprint(i), "bag", t0), false); err == nil {
			ok++
		}
		wg.Wait()
	}

	var rows int
	if err := conn.QueryRow("SELECT COUNT(*) FROM custody_records;").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != ok {
		t.Errorf("expected %d rows for %d successful inserts, got %d", ok, ok, rows)
	}
}
