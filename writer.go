package chronicle

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/mjhale/chronicle/codec"
)

// writer builds version rows from classified changes and persists them,
// together with any dependent association links. Enablement gating and
// classification happen in the tracker; by the time the writer runs, the
// decision to record has been made.
type writer struct {
	store    VersionStore
	codec    codec.Codec
	registry *Registry
	grouper  *grouper
	clock    func() time.Time
}

func (w *writer) writeCreate(ctx context.Context, rec Record, options TrackingOptions, diff ChangeSet) (*Version, error) {
	v := w.build(ctx, rec, options, EventCreate)

	if !options.DisableChanges && len(diff) > 0 {
		if err := w.encodeChanges(v, diff); err != nil {
			return nil, newWriteError(EventCreate, rec, err)
		}
	}
	w.resolveMeta(ctx, v, rec, options, EventCreate, nil)

	if err := w.persist(ctx, rec, v, options); err != nil {
		return nil, newWriteError(EventCreate, rec, err)
	}
	return v, nil
}

func (w *writer) writeUpdate(ctx context.Context, rec Record, previous map[string]any, options TrackingOptions, diff ChangeSet) (*Version, error) {
	// Update versions store only the diff; the full snapshot is
	// reconstructed by walking diffs during reification.
	v := w.build(ctx, rec, options, EventUpdate)

	if !options.DisableChanges && len(diff) > 0 {
		if err := w.encodeChanges(v, diff); err != nil {
			return nil, newWriteError(EventUpdate, rec, err)
		}
	}
	w.resolveMeta(ctx, v, rec, options, EventUpdate, previous)

	if err := w.persist(ctx, rec, v, options); err != nil {
		return nil, newWriteError(EventUpdate, rec, err)
	}
	return v, nil
}

func (w *writer) writeDestroy(ctx context.Context, rec Record, snapshot map[string]any, options TrackingOptions) (*Version, error) {
	v := w.build(ctx, rec, options, EventDestroy)

	// The snapshot is the only way to recover a destroyed record's state:
	// there is no later version to diff against. Skip attributes stay
	// invisible to storage here as everywhere else.
	object, err := w.codec.Dump(withoutSkipped(snapshot, options.Skip))
	if err != nil {
		return nil, newWriteError(EventDestroy, rec, fmt.Errorf("failed to serialize snapshot: %w", err))
	}
	v.Object = object
	w.resolveMeta(ctx, v, rec, options, EventDestroy, snapshot)

	if err := w.persist(ctx, rec, v, options); err != nil {
		return nil, newWriteError(EventDestroy, rec, err)
	}
	return v, nil
}

func (w *writer) build(ctx context.Context, rec Record, options TrackingOptions, event Event) *Version {
	v := &Version{
		ID:        uuid.New(),
		ItemType:  rec.ItemType(),
		ItemID:    rec.ItemID(),
		Event:     event,
		CreatedAt: w.timestampFor(rec, options),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		v.Whodunnit = &actor
	}
	return v
}

// timestampFor prefers the record's own update timestamp so the version
// stream lines up with the host store's bookkeeping, falling back to the
// wall clock. Non-live records never contribute their restored historical
// timestamp.
func (w *writer) timestampFor(rec Record, options TrackingOptions) time.Time {
	if sourced, ok := rec.(Sourced); ok && sourced.SourceVersion() != nil {
		return w.clock()
	}
	if ts := recordTimestamp(rec.Attributes(), updateColumns(options.timestampColumns())); !ts.IsZero() {
		return ts
	}
	return w.clock()
}

func (w *writer) encodeChanges(v *Version, diff ChangeSet) error {
	data, err := w.codec.Dump(diff.wire())
	if err != nil {
		return fmt.Errorf("failed to serialize changes: %w", err)
	}
	v.ObjectChanges = data
	return nil
}

// resolveMeta merges the per-type metadata declarations and then the ambient
// unit-of-work metadata into the version. A MetaAttr naming an attribute
// that is changing in this event resolves to the pre-change value, except on
// create where the current value is used.
func (w *writer) resolveMeta(ctx context.Context, v *Version, rec Record, options TrackingOptions, event Event, previous map[string]any) {
	merged := map[string]any{}
	current := rec.Attributes()

	for key, raw := range options.Meta {
		switch value := raw.(type) {
		case MetaFunc:
			merged[key] = value(rec)
		case func(Record) any:
			merged[key] = value(rec)
		case MetaAttr:
			name := string(value)
			if event != EventCreate && previous != nil {
				if old, ok := previous[name]; ok && !attributeEqual(old, current[name]) {
					merged[key] = old
					continue
				}
			}
			merged[key] = current[name]
		default:
			merged[key] = raw
		}
	}

	for key, value := range MetadataFromContext(ctx) {
		merged[key] = value
	}
	if len(merged) > 0 {
		v.Meta = merged
	}
}

func (w *writer) persist(ctx context.Context, rec Record, v *Version, options TrackingOptions) error {
	w.grouper.stamp(ctx, v)
	if err := w.store.Append(ctx, v); err != nil {
		return err
	}
	if err := w.grouper.beginIfAbsent(ctx, v); err != nil {
		return err
	}
	if uow, ok := unitOfWorkFromContext(ctx); ok {
		uow.touch(keyOf(v.ItemType, v.ItemID))
	}
	if options.TrackAssociations {
		if err := w.writeLinks(ctx, rec, v); err != nil {
			return err
		}
	}
	return nil
}

// writeLinks records an association link for every belongs_to relationship
// whose target is itself a tracked, enabled type. Polymorphic relationships
// are resolved at write time; an unresolvable target is silently skipped.
func (w *writer) writeLinks(ctx context.Context, rec Record, v *Version) error {
	source, ok := rec.(AssociationSource)
	if !ok {
		return nil
	}
	for _, assoc := range source.Associations() {
		if assoc.Polymorphic && !assoc.Resolved {
			continue
		}
		if assoc.TargetID == "" {
			continue
		}
		if !w.registry.Tracked(assoc.TargetType) || !w.registry.TypeEnabled(assoc.TargetType) {
			continue
		}
		link := AssociationLink{
			VersionID:      v.ID,
			ForeignKeyName: assoc.ForeignKeyName,
			ForeignKeyID:   assoc.TargetID,
		}
		if err := w.store.AppendLink(ctx, link); err != nil {
			return fmt.Errorf("failed to append association link %s: %w", assoc.ForeignKeyName, err)
		}
	}
	return nil
}

func withoutSkipped(attrs map[string]any, skip []string) map[string]any {
	if len(skip) == 0 {
		return attrs
	}
	out := cloneAttributes(attrs)
	for _, name := range skip {
		delete(out, name)
	}
	return out
}

func attributeEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
