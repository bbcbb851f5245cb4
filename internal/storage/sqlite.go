package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/your-org/intelliguard/internal/models"
)

// sqlitePragmas are applied to every connection.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// OpenSQLite opens the database file at path, creating its directory, and
// applies migrations.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	return openSQLiteDSN(ctx, fmt.Sprintf("file:%s?%s", path, sqlitePragmas))
}

func openSQLiteDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteLedgerStore persists custody records in SQLite. Writes go through a
// single Writer; reads use the pool directly.
type SQLiteLedgerStore struct {
	db     *sql.DB
	writer *Writer
}

func NewSQLiteLedgerStore(db *sql.DB, writer *Writer) *SQLiteLedgerStore {
	return &SQLiteLedgerStore{db: db, writer: writer}
}

const sqliteRecordColumns = `id, identity, item_type, description, image_ref, entered_at_ms, exited_at_ms, status`

func (s *SQLiteLedgerStore) InsertRecord(ctx context.Context, rec models.CustodyRecord, exclusive bool) (models.CustodyRecord, error) {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if exclusive {
			var id int64
			err := tx.QueryRowContext(ctx, `
SELECT id FROM custody_records
WHERE identity = ? AND item_type = ? AND status = ?
LIMIT 1;`, rec.Identity, rec.ItemType, models.StatusDelivered).Scan(&id)
			if err == nil {
				return models.ErrAlreadyOpen
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check open record: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO custody_records(identity, item_type, description, image_ref, entered_at_ms, exited_at_ms, status)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
			rec.Identity, rec.ItemType, rec.Description, rec.ImageRef,
			rec.EnteredAt.UTC().UnixMilli(), msOrNil(rec.ExitedAt), string(rec.Status),
		)
		if err != nil {
			return fmt.Errorf("insert custody record: %w", err)
		}
		rec.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert custody record id: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.CustodyRecord{}, err
	}
	return rec, nil
}

func (s *SQLiteLedgerStore) CloseLatestOpen(ctx context.Context, identity, itemType string, at time.Time) (models.CustodyRecord, error) {
	var rec models.CustodyRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
SELECT `+sqliteRecordColumns+` FROM custody_records
WHERE identity = ? AND item_type = ? AND status = ?
ORDER BY entered_at_ms DESC, id DESC
LIMIT 1;`, identity, itemType, models.StatusDelivered)
		r, err := scanSQLiteRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNoOpenRecord
		}
		if err != nil {
			return fmt.Errorf("find open record: %w", err)
		}

		exited := at.UTC().Truncate(time.Millisecond)
		if exited.Before(r.EnteredAt) {
			exited = r.EnteredAt
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE custody_records SET exited_at_ms = ?, status = ? WHERE id = ?;`,
			exited.UnixMilli(), models.StatusReturned, r.ID,
		); err != nil {
			return fmt.Errorf("close custody record: %w", err)
		}
		r.ExitedAt = &exited
		r.Status = models.StatusReturned
		rec = r
		return nil
	})
	if err != nil {
		return models.CustodyRecord{}, err
	}
	return rec, nil
}

func (s *SQLiteLedgerStore) ListRecords(ctx context.Context, f models.RecordFilter) ([]models.CustodyRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Identity != nil {
		where = append(where, "identity = ?")
		args = append(args, *f.Identity)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	q := "SELECT " + sqliteRecordColumns + " FROM custody_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY entered_at_ms DESC, id DESC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list custody records: %w", err)
	}
	defer rows.Close()

	out := make([]models.CustodyRecord, 0)
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list custody records: %w", err)
	}
	return out, nil
}

func (s *SQLiteLedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (models.CustodyRecord, error) {
	var (
		r         models.CustodyRecord
		desc      sql.NullString
		enteredMs int64
		exitedMs  sql.NullInt64
		status    string
	)
	if err := row.Scan(&r.ID, &r.Identity, &r.ItemType, &desc, &r.ImageRef, &enteredMs, &exitedMs, &status); err != nil {
		return r, err
	}
	if desc.Valid {
		r.Description = &desc.String
	}
	r.EnteredAt = time.UnixMilli(enteredMs).UTC()
	if exitedMs.Valid {
		t := time.UnixMilli(exitedMs.Int64).UTC()
		r.ExitedAt = &t
	}
	r.Status = models.CustodyStatus(status)
	return r, nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
