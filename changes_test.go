package chronicle

import (
	"reflect"
	"testing"
)

func TestDiffAttributesApplyInvertRoundTrip(t *testing.T) {
	previous := map[string]any{"name": "A", "count": float64(1), "color": "red"}
	current := map[string]any{"name": "B", "count": float64(2), "color": "red"}

	diff := DiffAttributes(previous, current)
	if len(diff) != 2 {
		t.Fatalf("expected 2 changes, got %v", diff)
	}

	applied := diff.Apply(previous)
	if !reflect.DeepEqual(applied, current) {
		t.Fatalf("apply mismatch: %v vs %v", applied, current)
	}

	restored := diff.Invert().Apply(applied)
	if !reflect.DeepEqual(restored, previous) {
		t.Fatalf("apply+invert must restore the original attributes: %v vs %v", restored, previous)
	}
}

func TestChangeSetRevertEqualsInvertApply(t *testing.T) {
	previous := map[string]any{"status": "open"}
	current := map[string]any{"status": "closed"}

	diff := DiffAttributes(previous, current)

	reverted := diff.Revert(current)
	inverted := diff.Invert().Apply(current)
	if !reflect.DeepEqual(reverted, inverted) {
		t.Fatalf("revert and invert-apply disagree: %v vs %v", reverted, inverted)
	}
	if !reflect.DeepEqual(reverted, previous) {
		t.Fatalf("revert must restore previous state: %v", reverted)
	}
}

func TestChangeSetWireRoundTrip(t *testing.T) {
	diff := ChangeSet{
		"name":  {Old: "A", New: "B"},
		"count": {Old: nil, New: float64(3)},
	}

	decoded, err := changeSetFromWire(diff.wire())
	if err != nil {
		t.Fatalf("unexpected wire decode error: %v", err)
	}
	if !reflect.DeepEqual(decoded, diff) {
		t.Fatalf("wire round trip mismatch: %v vs %v", decoded, diff)
	}
}

func TestChangeSetFromWireMalformed(t *testing.T) {
	if _, err := changeSetFromWire(map[string]any{"name": "not-a-pair"}); err == nil {
		t.Fatalf("expected error for malformed change entry")
	}
}

func TestDiffAttributesAddedAndRemovedKeys(t *testing.T) {
	previous := map[string]any{"removed": "x"}
	current := map[string]any{"added": "y"}

	diff := DiffAttributes(previous, current)

	if change := diff["added"]; change.Old != nil || change.New != "y" {
		t.Fatalf("unexpected added diff: %#v", change)
	}
	if change := diff["removed"]; change.Old != "x" || change.New != nil {
		t.Fatalf("unexpected removed diff: %#v", change)
	}
}
