package chronicle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TimeRange bounds a version query. Nil endpoints are unbounded; both bounds
// are inclusive.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls within the range.
func (r TimeRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// VersionStore is the persistence boundary the engine writes versions
// through. Implementations live under store/; the engine only depends on
// this interface.
//
// Append must assign the version's Sequence and persist it atomically.
// Versions returns the item's stream ordered by (created_at, sequence)
// ascending.
type VersionStore interface {
	Append(ctx context.Context, v *Version) error
	AppendLink(ctx context.Context, link AssociationLink) error
	Versions(ctx context.Context, itemType, itemID string, rng TimeRange) ([]Version, error)

	// TagTransaction sets the transaction_id column of an already appended
	// version. This is the only post-append mutation the engine performs.
	TagTransaction(ctx context.Context, versionID, transactionID uuid.UUID) error

	// InTransaction reports whether the current operation runs inside an
	// active transactional context of the underlying store.
	InTransaction(ctx context.Context) bool

	// HasColumn reports whether the store's schema carries an optional
	// column, used to detect transaction grouping and diff storage support.
	HasColumn(ctx context.Context, table, column string) (bool, error)
}
