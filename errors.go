package chronicle

import (
	"fmt"
)

// ConfigError reports invalid tracking options at registration time.
type ConfigError struct {
	ItemType string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid tracking configuration for %s: %s", e.ItemType, e.Reason)
}

// WriteError reports a rejected version write. Fatal writes (create and
// destroy) must abort the encompassing unit of work; non-fatal writes
// (update) are surfaced to the caller without retry.
type WriteError struct {
	Event    Event
	ItemType string
	ItemID   string
	Fatal    bool
	Err      error
}

func (e *WriteError) Error() string {
	severity := "reported"
	if e.Fatal {
		severity = "fatal"
	}
	return fmt.Sprintf("%s version write failed (%s) for %s/%s: %v", e.Event, severity, e.ItemType, e.ItemID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func newWriteError(event Event, rec Record, err error) *WriteError {
	return &WriteError{
		Event:    event,
		ItemType: rec.ItemType(),
		ItemID:   rec.ItemID(),
		Fatal:    event == EventCreate || event == EventDestroy,
		Err:      err,
	}
}
