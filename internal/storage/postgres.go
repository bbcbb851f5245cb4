package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/intelliguard/internal/config"
	"github.com/your-org/intelliguard/internal/models"
)

// PostgresStore persists custody records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

// NewPostgresStoreDSN connects with an explicit connection string.
func NewPostgresStoreDSN(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgRecordColumns = `id, identity, item_type, description, image_ref, entered_at, exited_at, status`

// lockKey serializes writers of one (identity, item type) pair for the rest
// of the transaction.
func lockKey(ctx context.Context, tx pgx.Tx, identity, itemType string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		models.CustodyKey(identity, itemType))
	if err != nil {
		return fmt.Errorf("lock custody key: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, rec models.CustodyRecord, exclusive bool) (models.CustodyRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.CustodyRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if exclusive {
		if err := lockKey(ctx, tx, rec.Identity, rec.ItemType); err != nil {
			return models.CustodyRecord{}, err
		}
		var open bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM custody_records WHERE identity = $1 AND item_type = $2 AND status = $3)`,
			rec.Identity, rec.ItemType, string(models.StatusDelivered),
		).Scan(&open)
		if err != nil {
			return models.CustodyRecord{}, fmt.Errorf("check open record: %w", err)
		}
		if open {
			return models.CustodyRecord{}, models.ErrAlreadyOpen
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO custody_records (identity, item_type, description, image_ref, entered_at, exited_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rec.Identity, rec.ItemType, rec.Description, rec.ImageRef, rec.EnteredAt, rec.ExitedAt, string(rec.Status),
	).Scan(&rec.ID)
	if err != nil {
		return models.CustodyRecord{}, fmt.Errorf("insert custody record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CustodyRecord{}, fmt.Errorf("commit custody record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CloseLatestOpen(ctx context.Context, identity, itemType string, at time.Time) (models.CustodyRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.CustodyRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockKey(ctx, tx, identity, itemType); err != nil {
		return models.CustodyRecord{}, err
	}

	rec, err := scanPgRecord(tx.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM custody_records
		 WHERE identity = $1 AND item_type = $2 AND status = $3
		 ORDER BY entered_at DESC, id DESC
		 LIMIT 1
		 FOR UPDATE`,
		identity, itemType, string(models.StatusDelivered)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CustodyRecord{}, models.ErrNoOpenRecord
		}
		return models.CustodyRecord{}, fmt.Errorf("find open record: %w", err)
	}

	exited := at.UTC()
	if exited.Before(rec.EnteredAt) {
		exited = rec.EnteredAt
	}
	if _, err := tx.Exec(ctx,
		`UPDATE custody_records SET exited_at = $1, status = $2 WHERE id = $3`,
		exited, string(models.StatusReturned), rec.ID,
	); err != nil {
		return models.CustodyRecord{}, fmt.Errorf("close custody record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CustodyRecord{}, fmt.Errorf("commit custody record: %w", err)
	}

	rec.ExitedAt = &exited
	rec.Status = models.StatusReturned
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, f models.RecordFilter) ([]models.CustodyRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Identity != nil {
		args = append(args, *f.Identity)
		where = append(where, "identity = $"+strconv.Itoa(len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	q := "SELECT " + pgRecordColumns + " FROM custody_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY entered_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list custody records: %w", err)
	}
	defer rows.Close()

	records := make([]models.CustodyRecord, 0)
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list custody records: %w", err)
	}
	return records, nil
}

func scanPgRecord(row pgx.Row) (models.CustodyRecord, error) {
	var (
		r      models.CustodyRecord
		status string
	)
	if err := row.Scan(&r.ID, &r.Identity, &r.ItemType, &r.Description, &r.ImageRef,
		&r.EnteredAt, &r.ExitedAt, &status); err != nil {
		return r, err
	}
	r.EnteredAt = r.EnteredAt.UTC()
	if r.ExitedAt != nil {
		t := r.ExitedAt.UTC()
		r.ExitedAt = &t
	}
	r.Status = models.CustodyStatus(status)
	return r, nil
}
