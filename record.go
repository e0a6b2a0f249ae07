package chronicle

import (
	"time"
)

// Record is the engine's read-only view of a host application record. The
// engine never owns the record's lifecycle; it only observes attribute
// snapshots handed to it at lifecycle points.
type Record interface {
	ItemType() string
	ItemID() string
	Attributes() map[string]any
	// Persisted reports whether the record exists in the host store. Destroy
	// versions are only recorded for persisted records.
	Persisted() bool
}

// Association describes one belongs_to style relationship on a record at
// write time. Polymorphic relationships set Polymorphic and leave Resolved
// false when no related instance is currently resolvable.
type Association struct {
	ForeignKeyName string
	TargetType     string
	TargetID       string
	Polymorphic    bool
	Resolved       bool
}

// AssociationSource is implemented by records whose relationships should be
// captured as association links alongside each version.
type AssociationSource interface {
	Associations() []Association
}

// Sourced is implemented by objects that originate from a reification and
// carry a reference to the version they were reconstructed from.
type Sourced interface {
	SourceVersion() *Version
}

// ReifiedRecord is a historical reconstruction of a tracked record. It is
// never persisted by the engine; hosts that save one back are responsible for
// copying its attributes onto a live record and calling the lifecycle hooks
// as usual.
type ReifiedRecord struct {
	itemType string
	itemID   string
	attrs    map[string]any

	source   *Version
	reliving bool
}

func (r *ReifiedRecord) ItemType() string           { return r.itemType }
func (r *ReifiedRecord) ItemID() string             { return r.itemID }
func (r *ReifiedRecord) Attributes() map[string]any { return r.attrs }
func (r *ReifiedRecord) Persisted() bool            { return true }

// SourceVersion returns the version this object was reconstructed from, or
// nil once the object has been marked saved and is live again.
func (r *ReifiedRecord) SourceVersion() *Version { return r.source }

// IsLive reports whether the object represents current, non-historical state.
func (r *ReifiedRecord) IsLive() bool { return r.source == nil }

// MarkSaved clears the source version marker: the object becomes live. The
// save that re-lives a historical object must not also restore the object's
// historical update timestamp, so the next ShouldTouchTimestamps call
// returns false exactly once.
func (r *ReifiedRecord) MarkSaved() {
	if r.source != nil {
		r.source = nil
		r.reliving = true
	}
}

// ShouldTouchTimestamps reports whether the host may apply its natural
// update-timestamp behaviour during the current save. Only genuinely live
// objects touch timestamps; the save immediately following a MarkSaved is
// suppressed to avoid double-touching.
func (r *ReifiedRecord) ShouldTouchTimestamps() bool {
	if r.reliving {
		r.reliving = false
		return false
	}
	return r.source == nil
}

// updateColumns filters a timestamp column list down to the columns that
// move on update, dropping creation-only bookkeeping.
func updateColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		if column != "created_at" {
			out = append(out, column)
		}
	}
	return out
}

// recordTimestamp extracts the record's own update timestamp when the host
// exposes one, falling back to zero when absent or of an unexpected type.
func recordTimestamp(attrs map[string]any, columns []string) time.Time {
	for _, column := range columns {
		if raw, ok := attrs[column]; ok {
			if ts, ok := raw.(time.Time); ok {
				return ts
			}
		}
	}
	return time.Time{}
}
