package chronicle

import (
	"reflect"
	"testing"
	"time"
)

func TestClassifyEmptyOptionsAnyChangeIsNotable(t *testing.T) {
	previous := map[string]any{"name": "A", "count": 1}
	current := map[string]any{"name": "B", "count": 1}

	cls := Classify(previous, current, TrackingOptions{}, nil)

	if !cls.Notable {
		t.Fatalf("expected notable classification")
	}
	if !reflect.DeepEqual(cls.Changed, []string{"name"}) {
		t.Fatalf("expected changed keys [name], got %v", cls.Changed)
	}
	if change := cls.Diff["name"]; change.Old != "A" || change.New != "B" {
		t.Fatalf("unexpected diff entry: %#v", change)
	}
}

func TestClassifyIgnoredTimestampStillNotable(t *testing.T) {
	// name changes alongside updated_at with updated_at ignored: the name
	// change carries the version.
	previous := map[string]any{"name": "A", "updated_at": "t1"}
	current := map[string]any{"name": "B", "updated_at": "t2"}
	options := TrackingOptions{Ignore: []AttributeRule{{Name: "updated_at"}}}

	cls := Classify(previous, current, options, nil)

	if !cls.Notable {
		t.Fatalf("expected notable classification")
	}
	if len(cls.Diff) != 1 {
		t.Fatalf("expected diff restricted to name, got %v", cls.Diff)
	}
	if change := cls.Diff["name"]; change.Old != "A" || change.New != "B" {
		t.Fatalf("unexpected name diff: %#v", change)
	}
}

func TestClassifyIgnoredChangePlusTimestampOnlyIsNoise(t *testing.T) {
	// Only the ignored status changed; the remaining change is the record's
	// own update timestamp, which must not create history by itself.
	previous := map[string]any{"status": "open", "updated_at": "t1"}
	current := map[string]any{"status": "closed", "updated_at": "t2"}
	options := TrackingOptions{Ignore: []AttributeRule{{Name: "status"}}}

	cls := Classify(previous, current, options, nil)

	if cls.Notable {
		t.Fatalf("expected non-notable classification, got diff %v", cls.Diff)
	}
}

func TestClassifyOnlyRestrictsNotability(t *testing.T) {
	previous := map[string]any{"name": "A", "color": "red"}
	current := map[string]any{"name": "B", "color": "blue"}
	options := TrackingOptions{Only: []AttributeRule{{Name: "color"}}}

	cls := Classify(previous, current, options, nil)

	if !cls.Notable {
		t.Fatalf("expected notable classification")
	}
	if _, ok := cls.Diff["name"]; ok {
		t.Fatalf("name should be excluded by the allow-list: %v", cls.Diff)
	}
	if _, ok := cls.Diff["color"]; !ok {
		t.Fatalf("color should be included by the allow-list: %v", cls.Diff)
	}
}

func TestClassifyIgnoreWinsOverOnly(t *testing.T) {
	previous := map[string]any{"color": "red"}
	current := map[string]any{"color": "blue"}
	options := TrackingOptions{
		Only:   []AttributeRule{{Name: "color"}},
		Ignore: []AttributeRule{{Name: "color"}},
	}

	cls := Classify(previous, current, options, nil)

	if cls.Notable {
		t.Fatalf("attribute in both only and ignore must be excluded")
	}
}

func TestClassifyConditionalRulesEvaluateLazily(t *testing.T) {
	previous := map[string]any{"draft": true, "body": "a"}
	current := map[string]any{"draft": true, "body": "b"}

	evaluated := false
	options := TrackingOptions{
		Ignore: []AttributeRule{
			{Name: "body", When: func(rec Record) bool {
				evaluated = true
				return rec != nil && rec.Attributes()["draft"] == true
			}},
		},
	}

	rec := &stubRecord{itemType: "Post", itemID: "1", attrs: current}
	cls := Classify(previous, current, options, rec)

	if !evaluated {
		t.Fatalf("expected ignore predicate to be evaluated")
	}
	if cls.Notable {
		t.Fatalf("body change on a draft should be ignored")
	}

	// Same transition on a non-draft record is notable.
	rec.attrs = map[string]any{"draft": false, "body": "b"}
	cls = Classify(map[string]any{"draft": false, "body": "a"}, rec.attrs, options, rec)
	if !cls.Notable {
		t.Fatalf("body change on a published record should be notable")
	}
}

func TestClassifySkipExcludedFromDiffEntirely(t *testing.T) {
	previous := map[string]any{"secret": "a", "name": "A"}
	current := map[string]any{"secret": "b", "name": "B"}
	options := TrackingOptions{Skip: []string{"secret"}}

	cls := Classify(previous, current, options, nil)

	if !cls.Notable {
		t.Fatalf("expected notable classification")
	}
	if _, ok := cls.Diff["secret"]; ok {
		t.Fatalf("skip attributes must be invisible to storage: %v", cls.Diff)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	previous := map[string]any{"name": "A", "updated_at": time.Unix(10, 0)}
	current := map[string]any{"name": "B", "updated_at": time.Unix(20, 0)}
	options := TrackingOptions{Ignore: []AttributeRule{{Name: "updated_at"}}}

	first := Classify(previous, current, options, nil)
	second := Classify(previous, current, options, nil)

	if first.Notable != second.Notable {
		t.Fatalf("notability differs across identical classifications")
	}
	if !reflect.DeepEqual(first.Diff, second.Diff) {
		t.Fatalf("diff differs across identical classifications: %v vs %v", first.Diff, second.Diff)
	}
}

func TestClassifyNoChanges(t *testing.T) {
	attrs := map[string]any{"name": "A"}
	cls := Classify(attrs, attrs, TrackingOptions{}, nil)
	if cls.Notable || len(cls.Diff) != 0 {
		t.Fatalf("identical snapshots must classify as not notable")
	}
}

// stubRecord is a minimal Record for classifier predicates.
type stubRecord struct {
	itemType string
	itemID   string
	attrs    map[string]any
}

func (r *stubRecord) ItemType() string           { return r.itemType }
func (r *stubRecord) ItemID() string             { return r.itemID }
func (r *stubRecord) Attributes() map[string]any { return r.attrs }
func (r *stubRecord) Persisted() bool            { return true }
