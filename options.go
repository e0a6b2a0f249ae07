package chronicle

// AttributeRule names an attribute in an ignore or only list, optionally
// guarded by a predicate. Predicates are evaluated lazily against the record
// at classification time; a rule with a nil predicate always applies.
type AttributeRule struct {
	Name string
	When func(Record) bool
}

func (r AttributeRule) applies(rec Record) bool {
	return r.When == nil || r.When(rec)
}

// MetaFunc computes a metadata value from the record at write time.
type MetaFunc func(Record) any

// MetaAttr names an attribute whose value is captured as metadata. When the
// named attribute is changing in the update being recorded, the pre-change
// value is captured; on create the current value is used.
type MetaAttr string

// DestroyRecording selects when a destroy version is written relative to the
// record's removal.
type DestroyRecording int

const (
	// RecordDestroyBefore writes the destroy version immediately before
	// removal, inside the same unit of work. This is the default and the
	// only order compatible with association tracking.
	RecordDestroyBefore DestroyRecording = iota
	// RecordDestroyAfter defers the destroy version until after removal.
	RecordDestroyAfter
)

// TrackingOptions configures versioning for one record type. Options are
// registered once and treated as immutable afterwards; the registry hands
// components a private copy per operation.
type TrackingOptions struct {
	// Events restricts which lifecycle events create versions. Empty means
	// all of create, update and destroy.
	Events []Event

	// Ignore lists attributes whose changes never make a version notable
	// and are excluded from the persisted diff.
	Ignore []AttributeRule

	// Only, when non-empty, restricts notability to the listed attributes.
	// An attribute present in both Only and Ignore is ignored.
	Only []AttributeRule

	// Skip lists attributes that are invisible to storage entirely: they
	// neither make a version notable nor appear in any persisted snapshot
	// or diff.
	Skip []string

	// Meta declares extra fields merged into every version written for this
	// type. Values may be literals, MetaFunc or MetaAttr.
	Meta map[string]any

	// If and Unless gate version creation for this type.
	If     func(Record) bool
	Unless func(Record) bool

	// TrackAssociations enables association link rows for records that
	// implement AssociationSource.
	TrackAssociations bool

	// DisableChanges suppresses the object_changes diff column.
	DisableChanges bool

	// TimestampColumns overrides the attribute names treated as the
	// record's own bookkeeping timestamps. Defaults to created_at and
	// updated_at.
	TimestampColumns []string

	// DestroyRecording selects before- or after-removal destroy recording.
	DestroyRecording DestroyRecording
}

var defaultTimestampColumns = []string{"created_at", "updated_at"}

func (o TrackingOptions) timestampColumns() []string {
	if len(o.TimestampColumns) > 0 {
		return o.TimestampColumns
	}
	return defaultTimestampColumns
}

func (o TrackingOptions) tracksEvent(event Event) bool {
	if len(o.Events) == 0 {
		return true
	}
	for _, e := range o.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (o TrackingOptions) conditionsPass(rec Record) bool {
	if o.If != nil && !o.If(rec) {
		return false
	}
	if o.Unless != nil && o.Unless(rec) {
		return false
	}
	return true
}

// clone returns a defensive copy so registry readers observe a consistent
// snapshot even if a caller mutates slices after registration.
func (o TrackingOptions) clone() TrackingOptions {
	out := o
	out.Events = append([]Event(nil), o.Events...)
	out.Ignore = append([]AttributeRule(nil), o.Ignore...)
	out.Only = append([]AttributeRule(nil), o.Only...)
	out.Skip = append([]string(nil), o.Skip...)
	out.TimestampColumns = append([]string(nil), o.TimestampColumns...)
	if o.Meta != nil {
		out.Meta = make(map[string]any, len(o.Meta))
		for key, value := range o.Meta {
			out.Meta[key] = value
		}
	}
	return out
}
