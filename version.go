// Package chronicle records create/update/destroy mutations of application
// records as an append-only stream of versions, and reconstructs historical
// record state from that stream.
package chronicle

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjhale/chronicle/codec"
)

// Event identifies the lifecycle mutation a version was recorded for.
type Event string

const (
	EventCreate  Event = "create"
	EventUpdate  Event = "update"
	EventDestroy Event = "destroy"
)

// Valid reports whether the event is one of the recognised lifecycle events.
func (e Event) Valid() bool {
	switch e {
	case EventCreate, EventUpdate, EventDestroy:
		return true
	}
	return false
}

// Version captures one recorded change of a tracked record. A version is
// immutable once appended; the only post-append mutation the engine performs
// is the self-referential transaction tagging done by the grouper.
type Version struct {
	ID       uuid.UUID
	ItemType string
	ItemID   string
	Event    Event

	// Whodunnit identifies the actor responsible for the change, if any.
	Whodunnit *string

	// Object holds the serialized full attribute snapshot taken immediately
	// before a destroy. It is nil for create and update versions.
	Object []byte

	// ObjectChanges holds the serialized attribute diff (old/new pairs) for
	// create and update versions. It is nil for destroy versions and when
	// diff recording is disabled for the item type.
	ObjectChanges []byte

	// Meta carries the merged per-type and ambient metadata for this version.
	Meta map[string]any

	CreatedAt     time.Time
	TransactionID *uuid.UUID

	// Sequence is the store-assigned insertion order, used to break
	// timestamp ties deterministically.
	Sequence int64
}

// Snapshot decodes the stored full snapshot of a destroy version.
func (v *Version) Snapshot(c codec.Codec) (map[string]any, error) {
	if v.Object == nil {
		return nil, nil
	}
	attrs, err := c.Load(v.Object)
	if err != nil {
		return nil, fmt.Errorf("failed to decode version snapshot: %w", err)
	}
	return attrs, nil
}

// Changeset decodes the stored attribute diff of a create or update version.
func (v *Version) Changeset(c codec.Codec) (ChangeSet, error) {
	if v.ObjectChanges == nil {
		return nil, nil
	}
	raw, err := c.Load(v.ObjectChanges)
	if err != nil {
		return nil, fmt.Errorf("failed to decode version changes: %w", err)
	}
	return changeSetFromWire(raw)
}

// AssociationLink records that a version was written while a belongs_to style
// relationship on the record pointed at a specific foreign record.
type AssociationLink struct {
	VersionID      uuid.UUID
	ForeignKeyName string
	ForeignKeyID   string
}

// itemKey identifies one tracked record inside caches and unit-of-work state.
type itemKey struct {
	itemType string
	itemID   string
}

func keyOf(itemType, itemID string) itemKey {
	return itemKey{itemType: itemType, itemID: itemID}
}
