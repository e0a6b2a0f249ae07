package chronicle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mjhale/chronicle/codec"
)

// Tracker is the engine facade. The host notifies it at record lifecycle
// points and queries it for history. All per-request state travels on the
// context; the tracker itself only holds process-wide configuration and a
// cache of version streams.
type Tracker struct {
	registry *Registry
	store    VersionStore
	codec    codec.Codec
	writer   *writer
	grouper  *grouper
	nav      *navigator
	clock    func() time.Time

	mu    sync.Mutex
	cache map[itemKey][]Version

	warnOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCodec overrides the default JSON codec.
func WithCodec(c codec.Codec) Option {
	return func(t *Tracker) { t.codec = c }
}

// WithRegistry shares an existing registry between trackers.
func WithRegistry(r *Registry) Option {
	return func(t *Tracker) { t.registry = r }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// New builds a tracker over the given version store.
func New(store VersionStore, opts ...Option) *Tracker {
	t := &Tracker{
		registry: NewRegistry(),
		store:    store,
		codec:    codec.JSON{},
		clock:    time.Now,
		cache:    make(map[itemKey][]Version),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.grouper = &grouper{store: store}
	t.writer = &writer{
		store:    store,
		codec:    t.codec,
		registry: t.registry,
		grouper:  t.grouper,
		clock:    t.clock,
	}
	t.nav = &navigator{codec: t.codec, versions: t.cachedVersions}
	return t
}

// Registry exposes the tracker's configuration registry.
func (t *Tracker) Registry() *Registry { return t.registry }

// Track registers tracking options for a record type.
func (t *Tracker) Track(itemType string, options TrackingOptions) error {
	return t.registry.Track(itemType, options)
}

// OnBeforeCreate is the host's pre-create notification. Nothing is recorded
// yet; the hook exists so hosts can fail fast when they rely on tracking.
func (t *Tracker) OnBeforeCreate(ctx context.Context, rec Record) error {
	return nil
}

// OnAfterCreate records a create version for the record. The "before" state
// of a create is absence, so no snapshot is stored; the diff covers the
// initial attribute values when diff recording is enabled.
func (t *Tracker) OnAfterCreate(ctx context.Context, rec Record) (*Version, error) {
	options, ok := t.enabledFor(rec, EventCreate)
	if !ok {
		t.markSavedIfReified(rec)
		return nil, nil
	}

	cls := Classify(nil, rec.Attributes(), options, rec)
	diff := ChangeSet{}
	if cls.Notable {
		diff = cls.Diff
	}
	v, err := t.writer.writeCreate(ctx, rec, options, diff)
	if err != nil {
		return nil, err
	}
	t.invalidate(keyOf(rec.ItemType(), rec.ItemID()))
	t.markSavedIfReified(rec)
	return v, nil
}

// OnBeforeUpdate is the host's pre-update notification.
func (t *Tracker) OnBeforeUpdate(ctx context.Context, rec Record, previous map[string]any) error {
	return nil
}

// OnAfterUpdate classifies the transition from previous to the record's
// current attributes and records an update version when it is notable. A
// non-notable transition records nothing and returns a nil version.
func (t *Tracker) OnAfterUpdate(ctx context.Context, rec Record, previous map[string]any) (*Version, error) {
	defer t.markSavedIfReified(rec)

	options, ok := t.enabledFor(rec, EventUpdate)
	if !ok {
		return nil, nil
	}
	cls := Classify(previous, rec.Attributes(), options, rec)
	if !cls.Notable {
		return nil, nil
	}
	v, err := t.writer.writeUpdate(ctx, rec, previous, options, cls.Diff)
	if err != nil {
		return nil, err
	}
	t.invalidate(keyOf(rec.ItemType(), rec.ItemID()))
	return v, nil
}

// RecordTouch forces an unconditional update version even when nothing
// notable changed, for hosts that expose an explicit "touch with version"
// operation.
func (t *Tracker) RecordTouch(ctx context.Context, rec Record, previous map[string]any) (*Version, error) {
	options, ok := t.enabledFor(rec, EventUpdate)
	if !ok {
		return nil, nil
	}
	cls := Classify(previous, rec.Attributes(), options, rec)
	v, err := t.writer.writeUpdate(ctx, rec, previous, options, cls.Diff)
	if err != nil {
		return nil, err
	}
	t.invalidate(keyOf(rec.ItemType(), rec.ItemID()))
	return v, nil
}

// OnBeforeDestroy records the destroy version, full snapshot included, while
// the record's attributes are still reachable. With after-removal recording
// configured the version is deferred to OnAfterDestroy instead; that order
// is incompatible with association tracking, in which case the engine warns
// and falls back to before-removal recording.
func (t *Tracker) OnBeforeDestroy(ctx context.Context, rec Record) (*Version, error) {
	if !rec.Persisted() {
		return nil, nil
	}
	options, ok := t.enabledFor(rec, EventDestroy)
	if !ok {
		return nil, nil
	}
	if t.destroyOrder(options) == RecordDestroyAfter {
		return nil, nil
	}
	v, err := t.writer.writeDestroy(ctx, rec, rec.Attributes(), options)
	if err != nil {
		return nil, err
	}
	t.invalidate(keyOf(rec.ItemType(), rec.ItemID()))
	return v, nil
}

// OnAfterDestroy records the destroy version from the snapshot captured
// before removal, for types configured with after-removal recording.
func (t *Tracker) OnAfterDestroy(ctx context.Context, rec Record, snapshot map[string]any) (*Version, error) {
	options, ok := t.enabledFor(rec, EventDestroy)
	if !ok {
		return nil, nil
	}
	if t.destroyOrder(options) != RecordDestroyAfter {
		return nil, nil
	}
	v, err := t.writer.writeDestroy(ctx, rec, snapshot, options)
	if err != nil {
		return nil, err
	}
	t.invalidate(keyOf(rec.ItemType(), rec.ItemID()))
	return v, nil
}

func (t *Tracker) destroyOrder(options TrackingOptions) DestroyRecording {
	if options.DestroyRecording == RecordDestroyAfter && options.TrackAssociations {
		t.warnOnce.Do(func() {
			log.Printf("[CHRONICLE] after-removal destroy recording cannot capture association links; falling back to before-removal recording")
		})
		return RecordDestroyBefore
	}
	return options.DestroyRecording
}

// CommitUnitOfWork ends the context's unit of work after a successful
// commit, releasing the shared transaction id.
func (t *Tracker) CommitUnitOfWork(ctx context.Context) {
	t.grouper.resetFor(ctx)
}

// RollbackUnitOfWork ends the context's unit of work after a rollback. The
// cached version streams of every item touched in the unit of work are
// invalidated, not reloaded, so a later read cannot observe versions for
// changes that never committed.
func (t *Tracker) RollbackUnitOfWork(ctx context.Context) {
	if uow, ok := unitOfWorkFromContext(ctx); ok {
		t.invalidate(uow.touchedItems()...)
	}
	t.grouper.resetFor(ctx)
}

// Versions returns the record's full version stream, ordered by timestamp
// with insertion order breaking ties. Streams are cached per item until a
// write or rollback invalidates them.
func (t *Tracker) Versions(ctx context.Context, rec Record) ([]Version, error) {
	return t.cachedVersions(ctx, rec.ItemType(), rec.ItemID())
}

// VersionsBetween returns the record's versions recorded within [start, end].
func (t *Tracker) VersionsBetween(ctx context.Context, rec Record, start, end time.Time) ([]Version, error) {
	return t.store.Versions(ctx, rec.ItemType(), rec.ItemID(), TimeRange{Start: &start, End: &end})
}

// VersionAt returns the version carrying the record's state at the given
// time, or nil when the live record already represents that state.
func (t *Tracker) VersionAt(ctx context.Context, rec Record, at time.Time) (*Version, error) {
	return t.nav.versionAt(ctx, rec, at)
}

// StateAtTime reconstructs the record as of the given time. A nil result
// with a nil error means the record did not exist then, or had already been
// destroyed.
func (t *Tracker) StateAtTime(ctx context.Context, rec Record, at time.Time) (*ReifiedRecord, error) {
	return t.nav.stateAtTime(ctx, rec, at)
}

// PreviousState steps one version back in the record's history.
func (t *Tracker) PreviousState(ctx context.Context, rec Record) (*ReifiedRecord, error) {
	return t.nav.previousState(ctx, rec)
}

// Originator returns the actor responsible for the record's current (or, for
// a reified object, historical) state.
func (t *Tracker) Originator(ctx context.Context, rec Record) (*string, error) {
	return t.nav.originator(ctx, rec)
}

// IsLive reports whether the object represents current state rather than a
// reification.
func (t *Tracker) IsLive(rec any) bool {
	if sourced, ok := rec.(Sourced); ok {
		return sourced.SourceVersion() == nil
	}
	return true
}

// Without runs op with tracking suspended for the given record type and
// restores the prior enabled state on every exit path, including panics.
func (t *Tracker) Without(itemType string, op func() error) error {
	prior := t.registry.TypeEnabled(itemType)
	t.registry.SetTypeEnabled(itemType, false)
	defer t.registry.SetTypeEnabled(itemType, prior)
	return op()
}

func (t *Tracker) enabledFor(rec Record, event Event) (TrackingOptions, bool) {
	options, ok := t.registry.snapshot(rec.ItemType())
	if !ok || !options.tracksEvent(event) || !options.conditionsPass(rec) {
		return TrackingOptions{}, false
	}
	return options, true
}

func (t *Tracker) markSavedIfReified(rec Record) {
	if reified, ok := rec.(interface{ MarkSaved() }); ok {
		reified.MarkSaved()
	}
}

func (t *Tracker) cachedVersions(ctx context.Context, itemType, itemID string) ([]Version, error) {
	key := keyOf(itemType, itemID)

	t.mu.Lock()
	cached, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		return append([]Version(nil), cached...), nil
	}

	stream, err := t.store.Versions(ctx, itemType, itemID, TimeRange{})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.cache[key] = append([]Version(nil), stream...)
	t.mu.Unlock()
	return stream, nil
}

func (t *Tracker) invalidate(keys ...itemKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		delete(t.cache, key)
	}
}
