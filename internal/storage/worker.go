package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var errWriterClosed = errors.New("sqlite writer closed")

// WriteFn runs inside a write transaction. Returning an error rolls it back.
type WriteFn func(ctx context.Context, tx *sql.Tx) error

type writeJob struct {
	ctx context.Context
	fn  WriteFn
	ch  chan error
}

// Writer funnels every SQLite write through one goroutine so transactions
// never contend for the database lock.
type Writer struct {
	db   *sql.DB
	jobs chan writeJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWriter(db *sql.DB) *Writer {
	w := &Writer{
		db:   db,
		jobs: make(chan writeJob, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close drains queued writes and stops the loop.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

// Do queues fn and waits for its commit or rollback. Once queued, the job's
// outcome is always reported: a ctx that ends before commit rolls the
// transaction back and Do returns that error, a commit that wins returns nil.
func (w *Writer) Do(ctx context.Context, fn WriteFn) error {
	ch := make(chan error, 1)
	if err := w.enqueue(ctx, writeJob{ctx: ctx, fn: fn, ch: ch}); err != nil {
		return err
	}
	return <-ch
}

func (w *Writer) enqueue(ctx context.Context, j writeJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	select {
	case w.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.ch <- w.run(j)
	}
}

func (w *Writer) run(j writeJob) error {
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
