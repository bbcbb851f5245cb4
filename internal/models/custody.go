package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CustodyStatus is the lifecycle state of a custody record.
type CustodyStatus string

const (
	// StatusDelivered: the item is held in custody.
	StatusDelivered CustodyStatus = "ENTREGADO"
	// StatusReturned: the item has been handed back.
	StatusReturned CustodyStatus = "RETIRADO"
)

var (
	ErrNoOpenRecord = errors.New("no open custody record")
	ErrAlreadyOpen  = errors.New("custody record already open for item type")
)

// ParseCustodyStatus accepts any letter case.
func ParseCustodyStatus(s string) (CustodyStatus, error) {
	switch st := CustodyStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusDelivered, StatusReturned:
		return st, nil
	default:
		return "", fmt.Errorf("unknown custody status %q", s)
	}
}

// CustodyRecord is one physical item in one custody episode.
type CustodyRecord struct {
	ID          int64         `json:"id" db:"id"`
	Identity    string        `json:"identity" db:"identity"`
	ItemType    string        `json:"item_type" db:"item_type"`
	Description *string       `json:"description,omitempty" db:"description"`
	ImageRef    string        `json:"image_ref" db:"image_ref"`
	EnteredAt   time.Time     `json:"entered_at" db:"entered_at"`
	ExitedAt    *time.Time    `json:"exited_at,omitempty" db:"exited_at"`
	Status      CustodyStatus `json:"status" db:"status"`
}

// Open reports whether the item is still in custody.
func (r CustodyRecord) Open() bool {
	return r.Status == StatusDelivered
}

// CustodyKey identifies the state machine a record belongs to.
func CustodyKey(identity, itemType string) string {
	return identity + "\x1f" + itemType
}

// RecordFilter narrows a ledger query. Nil fields do not filter.
type RecordFilter struct {
	Identity *string
	Status   *CustodyStatus
}
