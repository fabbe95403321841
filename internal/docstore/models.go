package docstore

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrOwnerImmutable is returned when a Put attempts to change a document's
// owner. owner_id is fixed at creation.
var ErrOwnerImmutable = errors.New("owner_id is immutable")

// Document kinds.
const (
	KindTask  = "task"
	KindEvent = "event"
	KindNote  = "note"
)

// ValidKind reports whether kind is one of the known document kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindTask, KindEvent, KindNote:
		return true
	}
	return false
}

// Document is a unit of indexed content in the system of record. The vector
// index holds a derived projection of these rows; this table is the single
// source of truth for existence and deletion.
type Document struct {
	ID       string
	OwnerID  string
	Kind     string
	Content  string
	Metadata map[string]string
	// Version is a monotonic counter bumped whenever Content changes.
	Version   int64
	UpdatedAt time.Time
}
