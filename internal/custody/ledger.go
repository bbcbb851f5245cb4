// Package custody tracks belongings checked in and out against an identity.
//
// Each (identity, item type) pair is a small state machine: check-in opens a
// record in status ENTREGADO, check-out closes the most recent open record and
// moves it to RETIRADO. Records are never deleted.
package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/observability"
)

var (
	ErrNoOpenRecord    = models.ErrNoOpenRecord
	ErrAlreadyOpen     = models.ErrAlreadyOpen
	ErrPersistence     = errors.New("custody persistence failed")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidItemType = errors.New("invalid item type")
	ErrInvalidStatus   = errors.New("invalid custody status")
	ErrInvalidPolicy   = errors.New("invalid open record policy")
)

// Store persists custody records. Implementations make InsertRecord with
// exclusive set and CloseLatestOpen atomic per (identity, item type).
type Store interface {
	// InsertRecord assigns the id. With exclusive set it fails with
	// ErrAlreadyOpen while an open record exists for the key.
	InsertRecord(ctx context.Context, rec models.CustodyRecord, exclusive bool) (models.CustodyRecord, error)
	// CloseLatestOpen closes the most recently entered open record for the
	// key at max(at, entered_at), or fails with ErrNoOpenRecord.
	CloseLatestOpen(ctx context.Context, identity, itemType string, at time.Time) (models.CustodyRecord, error)
	// ListRecords returns matching records, most recently entered first.
	ListRecords(ctx context.Context, f models.RecordFilter) ([]models.CustodyRecord, error)
}

// PhotoStore holds belonging photos by object key.
type PhotoStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// Policy decides whether an item type may have more than one open record.
type Policy string

const (
	// PolicyStack always opens a new record; check-out closes the newest.
	PolicyStack Policy = "stack"
	// PolicyReject refuses check-in while a record is open for the key.
	PolicyReject Policy = "reject"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStack, nil
	case PolicyStack, PolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// ParseStatus parses a status filter in any letter case.
func ParseStatus(s string) (models.CustodyStatus, error) {
	st, err := models.ParseCustodyStatus(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

type Options struct {
	Policy Policy
	// Photos is required by CheckInWithPhoto only.
	Photos PhotoStore
	// Events may be nil.
	Events EventPublisher
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Ledger is the custody service. It is safe for concurrent use; operations
// on the same (identity, item type) run one at a time.
type Ledger struct {
	store  Store
	photos PhotoStore
	events EventPublisher
	policy Policy
	now    func() time.Time
	locks  keyedMutex
}

func NewLedger(store Store, opts Options) *Ledger {
	if opts.Policy == "" {
		opts.Policy = PolicyStack
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:  store,
		photos: opts.Photos,
		events: opts.Events,
		policy: opts.Policy,
		now:    opts.Now,
	}
}

func (l *Ledger) Policy() Policy { return l.policy }

// CheckIn opens a custody record for the item. imageRef is stored as given.
func (l *Ledger) CheckIn(ctx context.Context, identity, itemType string, description *string, imageRef string) (models.CustodyRecord, error) {
	identity, itemType, err := normalizeKey(identity, itemType)
	if err != nil {
		return models.CustodyRecord{}, err
	}

	unlock := l.locks.Lock(models.CustodyKey(identity, itemType))
	rec, err := l.insert(ctx, identity, itemType, description, imageRef)
	unlock()
	if err != nil {
		return rec, err
	}
	l.publish(ctx, models.EventCheckIn, rec)
	return rec, nil
}

// CheckInWithPhoto stores photo (JPEG bytes) and opens a record referencing
// it. The photo is removed again if the record cannot be created.
func (l *Ledger) CheckInWithPhoto(ctx context.Context, identity, itemType string, description *string, photo []byte) (models.CustodyRecord, error) {
	if l.photos == nil {
		return models.CustodyRecord{}, errors.New("check in with photo: no photo store configured")
	}
	identity, itemType, err := normalizeKey(identity, itemType)
	if err != nil {
		return models.CustodyRecord{}, err
	}

	rec, err := l.storeWithPhoto(ctx, identity, itemType, description, photo)
	if err != nil {
		return rec, err
	}
	l.publish(ctx, models.EventCheckIn, rec)
	return rec, nil
}

// storeWithPhoto holds the key lock only around the writes, so publishing
// never blocks other operations on the same item.
func (l *Ledger) storeWithPhoto(ctx context.Context, identity, itemType string, description *string, photo []byte) (models.CustodyRecord, error) {
	unlock := l.locks.Lock(models.CustodyKey(identity, itemType))
	defer unlock()

	key := PhotoKey(identity, itemType, l.now())
	if err := l.photos.PutObject(ctx, key, photo, "image/jpeg"); err != nil {
		observability.CustodyOperations.WithLabelValues("checkin", "error").Inc()
		return models.CustodyRecord{}, errors.Join(ErrPersistence, fmt.Errorf("store belonging photo: %w", err))
	}

	rec, err := l.insert(ctx, identity, itemType, description, key)
	if err != nil {
		if derr := l.photos.DeleteObject(context.WithoutCancel(ctx), key); derr != nil {
			slog.Error("orphaned belonging photo", "key", key, "error", derr)
			err = errors.Join(err, fmt.Errorf("remove photo %s: %w", key, derr))
		}
		return models.CustodyRecord{}, err
	}
	return rec, nil
}

func (l *Ledger) insert(ctx context.Context, identity, itemType string, description *string, imageRef string) (models.CustodyRecord, error) {
	rec := models.CustodyRecord{
		Identity:    identity,
		ItemType:    itemType,
		Description: normalizeDescription(description),
		ImageRef:    imageRef,
		EnteredAt:   l.timestamp(),
		Status:      models.StatusDelivered,
	}

	rec, err := l.store.InsertRecord(ctx, rec, l.policy == PolicyReject)
	switch {
	case err == nil:
		observability.CustodyOperations.WithLabelValues("checkin", "ok").Inc()
		slog.Info("belonging checked in", "identity", identity, "item_type", itemType, "record_id", rec.ID)
		return rec, nil
	case errors.Is(err, ErrAlreadyOpen):
		observability.CustodyOperations.WithLabelValues("checkin", "already_open").Inc()
		slog.Debug("check-in rejected, record already open", "identity", identity, "item_type", itemType)
		return models.CustodyRecord{}, err
	default:
		observability.CustodyOperations.WithLabelValues("checkin", "error").Inc()
		return models.CustodyRecord{}, errors.Join(ErrPersistence, fmt.Errorf("insert custody record: %w", err))
	}
}

// CheckOut closes the most recent open record for the item.
func (l *Ledger) CheckOut(ctx context.Context, identity, itemType string) (models.CustodyRecord, error) {
	identity, itemType, err := normalizeKey(identity, itemType)
	if err != nil {
		return models.CustodyRecord{}, err
	}

	unlock := l.locks.Lock(models.CustodyKey(identity, itemType))
	rec, err := l.store.CloseLatestOpen(ctx, identity, itemType, l.timestamp())
	unlock()
	switch {
	case err == nil:
	case errors.Is(err, ErrNoOpenRecord):
		observability.CustodyOperations.WithLabelValues("checkout", "no_open_record").Inc()
		slog.Debug("check-out without open record", "identity", identity, "item_type", itemType)
		return models.CustodyRecord{}, err
	default:
		observability.CustodyOperations.WithLabelValues("checkout", "error").Inc()
		return models.CustodyRecord{}, errors.Join(ErrPersistence, fmt.Errorf("close custody record: %w", err))
	}

	observability.CustodyOperations.WithLabelValues("checkout", "ok").Inc()
	slog.Info("belonging checked out", "identity", identity, "item_type", itemType, "record_id", rec.ID)
	l.publish(ctx, models.EventCheckOut, rec)
	return rec, nil
}

// Query lists records, most recently entered first. Nil filters match all.
func (l *Ledger) Query(ctx context.Context, identity *string, status *models.CustodyStatus) ([]models.CustodyRecord, error) {
	if status != nil && *status != models.StatusDelivered && *status != models.StatusReturned {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
	}
	recs, err := l.store.ListRecords(ctx, models.RecordFilter{Identity: identity, Status: status})
	if err != nil {
		observability.CustodyOperations.WithLabelValues("query", "error").Inc()
		return nil, errors.Join(ErrPersistence, fmt.Errorf("list custody records: %w", err))
	}
	observability.CustodyOperations.WithLabelValues("query", "ok").Inc()
	return recs, nil
}

func (l *Ledger) publish(ctx context.Context, t models.EventType, rec models.CustodyRecord) {
	if l.events == nil {
		return
	}
	ev := models.NewEvent(t, rec.Identity)
	ev.Record = &rec
	if err := l.events.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		slog.Error("publish custody event", "type", t, "record_id", rec.ID, "error", err)
	}
}

// timestamp is the current UTC time at the millisecond precision every store
// can represent, so returned and re-read records compare equal.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

func normalizeKey(identity, itemType string) (string, string, error) {
	identity = strings.TrimSpace(identity)
	itemType = strings.TrimSpace(itemType)
	if identity == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if itemType == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidItemType)
	}
	return identity, itemType, nil
}

func normalizeDescription(d *string) *string {
	if d == nil {
		return nil
	}
	s := strings.TrimSpace(*d)
	if s == "" {
		return nil
	}
	return &s
}

// PhotoKey is the object key of a belonging photo taken at t:
// belongings/<identity>/<yyyymmdd>/<item>_<hhmmss>_<suffix>.jpg.
func PhotoKey(identity, itemType string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("belongings/%s/%s/%s_%s_%s.jpg",
		keySegment(identity), t.Format("20060102"), keySegment(itemType), t.Format("150405"), suffix)
}

// keySegment makes s safe as a single path segment.
func keySegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.Trim(out, ".") == "" {
		return "_"
	}
	return out
}
