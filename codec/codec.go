// Package codec defines the pluggable serialization boundary between the
// versioning engine and the columns its store persists.
package codec

import (
	"encoding/json"
	"fmt"
)

// Codec serializes attribute maps into the bytes a version store persists and
// back. Implementations must round-trip any value they accept: the engine
// relies on Load(Dump(attrs)) preserving enough type information to invert
// attribute diffs during reification.
type Codec interface {
	Dump(attrs map[string]any) ([]byte, error)
	Load(data []byte) (map[string]any, error)
}

// JSON is the default codec. Note the usual encoding/json caveats: numbers
// decode as float64 and time values as RFC 3339 strings, so hosts comparing
// reified attributes against live ones should normalise through the codec.
type JSON struct{}

func (JSON) Dump(attrs map[string]any) ([]byte, error) {
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return data, nil
}

func (JSON) Load(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return attrs, nil
}
