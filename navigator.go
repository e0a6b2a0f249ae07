package chronicle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjhale/chronicle/codec"
)

// navigator walks an item's version stream to answer historical queries and
// reconstruct past states. It reads versions through the tracker's cache and
// never mutates live data.
type navigator struct {
	codec    codec.Codec
	versions func(ctx context.Context, itemType, itemID string) ([]Version, error)
}

// originator returns the actor responsible for the record's state: the
// source version's actor for a reified object, otherwise the actor of the
// most recent version in the stream.
func (n *navigator) originator(ctx context.Context, rec Record) (*string, error) {
	if sourced, ok := rec.(Sourced); ok {
		if v := sourced.SourceVersion(); v != nil {
			return v.Whodunnit, nil
		}
	}
	stream, err := n.versions(ctx, rec.ItemType(), rec.ItemID())
	if err != nil {
		return nil, err
	}
	if len(stream) == 0 {
		return nil, nil
	}
	return stream[len(stream)-1].Whodunnit, nil
}

// previousState steps one version back from a reified object's source, or
// reifies the last recorded version of a live record. Nil when there is no
// earlier state.
func (n *navigator) previousState(ctx context.Context, rec Record) (*ReifiedRecord, error) {
	stream, err := n.versions(ctx, rec.ItemType(), rec.ItemID())
	if err != nil {
		return nil, err
	}
	if len(stream) == 0 {
		return nil, nil
	}

	if sourced, ok := rec.(Sourced); ok {
		if source := sourced.SourceVersion(); source != nil {
			idx := indexOfVersion(stream, source.ID)
			if idx <= 0 {
				return nil, nil
			}
			return n.reify(ctx, rec, stream, idx-1)
		}
	}
	return n.reify(ctx, rec, stream, len(stream)-1)
}

// stateAtTime reconstructs the record as of t. Each stored version records
// how the object looked before the change it represents, so the state at t
// is carried by the first version recorded strictly after t. When no such
// version exists the live record is returned, unless it has since been
// destroyed, in which case there is no state to report.
func (n *navigator) stateAtTime(ctx context.Context, rec Record, t time.Time) (*ReifiedRecord, error) {
	stream, err := n.versions(ctx, rec.ItemType(), rec.ItemID())
	if err != nil {
		return nil, err
	}
	for idx := range stream {
		if stream[idx].CreatedAt.After(t) {
			return n.reify(ctx, rec, stream, idx)
		}
	}
	if len(stream) > 0 && stream[len(stream)-1].Event == EventDestroy {
		return nil, nil
	}
	return &ReifiedRecord{
		itemType: rec.ItemType(),
		itemID:   rec.ItemID(),
		attrs:    cloneAttributes(rec.Attributes()),
	}, nil
}

// versionAt returns the version carrying the record's state at t, without
// reifying it.
func (n *navigator) versionAt(ctx context.Context, rec Record, t time.Time) (*Version, error) {
	stream, err := n.versions(ctx, rec.ItemType(), rec.ItemID())
	if err != nil {
		return nil, err
	}
	for idx := range stream {
		if stream[idx].CreatedAt.After(t) {
			v := stream[idx]
			return &v, nil
		}
	}
	return nil, nil
}

// reify reconstructs the state carried by stream[target]. For a destroy
// version that is the stored snapshot. Otherwise reconstruction starts from
// the live attributes and undoes diffs newest first, in strictly decreasing
// (timestamp, sequence) order, down to and including the target; a destroy
// snapshot encountered on the way replaces the working state wholesale.
func (n *navigator) reify(ctx context.Context, rec Record, stream []Version, target int) (*ReifiedRecord, error) {
	v := stream[target]
	out := &ReifiedRecord{
		itemType: v.ItemType,
		itemID:   v.ItemID,
		source:   &v,
	}

	if v.Event == EventDestroy {
		attrs, err := v.Snapshot(n.codec)
		if err != nil {
			return nil, err
		}
		out.attrs = attrs
		return out, nil
	}

	attrs := cloneAttributes(rec.Attributes())
	for idx := len(stream) - 1; idx >= target; idx-- {
		step := stream[idx]
		if step.Event == EventDestroy && step.Object != nil {
			snapshot, err := step.Snapshot(n.codec)
			if err != nil {
				return nil, fmt.Errorf("failed to reify %s/%s: %w", v.ItemType, v.ItemID, err)
			}
			attrs = snapshot
			continue
		}
		diff, err := step.Changeset(n.codec)
		if err != nil {
			return nil, fmt.Errorf("failed to reify %s/%s: %w", v.ItemType, v.ItemID, err)
		}
		attrs = diff.Revert(attrs)
	}

	out.attrs = attrs
	return out, nil
}

func indexOfVersion(stream []Version, id uuid.UUID) int {
	for idx := range stream {
		if stream[idx].ID == id {
			return idx
		}
	}
	return -1
}
