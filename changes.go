package chronicle

import (
	"fmt"
	"reflect"
	"sort"
)

// Change holds the before and after value of a single attribute.
type Change struct {
	Old any
	New any
}

// ChangeSet maps attribute names to their old/new value pairs. Change sets
// are invertible: applying a set and then its inverse restores the original
// attribute map exactly, provided values survive the configured codec.
type ChangeSet map[string]Change

// DiffAttributes computes the change set between two attribute maps. Keys
// absent on one side diff against nil.
func DiffAttributes(previous, current map[string]any) ChangeSet {
	diff := ChangeSet{}
	for key, curr := range current {
		prev, ok := previous[key]
		if !ok {
			if curr != nil {
				diff[key] = Change{Old: nil, New: curr}
			}
			continue
		}
		if !reflect.DeepEqual(prev, curr) {
			diff[key] = Change{Old: prev, New: curr}
		}
	}
	for key, prev := range previous {
		if _, ok := current[key]; !ok && prev != nil {
			diff[key] = Change{Old: prev, New: nil}
		}
	}
	return diff
}

// Keys returns the changed attribute names in sorted order.
func (c ChangeSet) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Restrict returns a copy of the change set containing only the given keys.
func (c ChangeSet) Restrict(keys []string) ChangeSet {
	out := ChangeSet{}
	for _, key := range keys {
		if change, ok := c[key]; ok {
			out[key] = change
		}
	}
	return out
}

// Apply returns a copy of attrs with every change's new value set.
func (c ChangeSet) Apply(attrs map[string]any) map[string]any {
	out := cloneAttributes(attrs)
	for key, change := range c {
		out[key] = change.New
	}
	return out
}

// Revert returns a copy of attrs with every change rolled back to its old
// value. This is the backward step used during reification.
func (c ChangeSet) Revert(attrs map[string]any) map[string]any {
	out := cloneAttributes(attrs)
	for key, change := range c {
		out[key] = change.Old
	}
	return out
}

// Invert swaps the old and new value of every change.
func (c ChangeSet) Invert() ChangeSet {
	out := make(ChangeSet, len(c))
	for key, change := range c {
		out[key] = Change{Old: change.New, New: change.Old}
	}
	return out
}

// wire returns the serializable form of the change set: attribute name to a
// two element [old, new] slice, matching the object_changes column layout.
func (c ChangeSet) wire() map[string]any {
	out := make(map[string]any, len(c))
	for key, change := range c {
		out[key] = []any{change.Old, change.New}
	}
	return out
}

func changeSetFromWire(raw map[string]any) (ChangeSet, error) {
	out := make(ChangeSet, len(raw))
	for key, value := range raw {
		pair, ok := value.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("malformed change entry for attribute %q", key)
		}
		out[key] = Change{Old: pair[0], New: pair[1]}
	}
	return out, nil
}

func cloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		out[key] = value
	}
	return out
}
