package chronicle

import (
	"sync"
)

// Registry holds the process-wide tracking configuration: per-type options,
// the global enable switch and per-type overrides. Configuration is written
// rarely and read on every lifecycle event, so reads take a shared lock and
// return copies.
type Registry struct {
	mu      sync.RWMutex
	enabled bool
	types   map[string]*typeConfig
}

type typeConfig struct {
	options TrackingOptions
	enabled bool
}

// NewRegistry returns an enabled, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		enabled: true,
		types:   make(map[string]*typeConfig),
	}
}

// Track registers tracking options for a record type. Invalid options are a
// setup-time failure.
func (r *Registry) Track(itemType string, options TrackingOptions) error {
	if itemType == "" {
		return &ConfigError{ItemType: itemType, Reason: "item type must not be empty"}
	}
	for _, event := range options.Events {
		if !event.Valid() {
			return &ConfigError{ItemType: itemType, Reason: "unknown event " + string(event)}
		}
	}
	for _, name := range options.Skip {
		if name == "" {
			return &ConfigError{ItemType: itemType, Reason: "skip entries must name an attribute"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[itemType] = &typeConfig{options: options.clone(), enabled: true}
	return nil
}

// Tracked reports whether the type has registered tracking options.
func (r *Registry) Tracked(itemType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[itemType]
	return ok
}

// Options returns a copy of the type's tracking options.
func (r *Registry) Options(itemType string) (TrackingOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[itemType]
	if !ok {
		return TrackingOptions{}, false
	}
	return cfg.options.clone(), true
}

// SetEnabled flips the global enable switch.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Enabled reports the global enable switch.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetTypeEnabled overrides tracking for one registered type.
func (r *Registry) SetTypeEnabled(itemType string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.types[itemType]; ok {
		cfg.enabled = enabled
	}
}

// TypeEnabled reports the per-type override for a registered type.
func (r *Registry) TypeEnabled(itemType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[itemType]
	return ok && cfg.enabled
}

// snapshot returns everything a lifecycle event needs in one consistent
// read: the type's options and whether tracking is currently in effect.
func (r *Registry) snapshot(itemType string) (TrackingOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[itemType]
	if !ok || !r.enabled || !cfg.enabled {
		return TrackingOptions{}, false
	}
	return cfg.options.clone(), true
}
