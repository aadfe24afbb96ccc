// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin

import (
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry holds the capability object published by each successfully
// loaded plugin. It is the single shared lookup table; the loader is the
// only writer, everyone else reads.
// It is thread-safe for concurrent access.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]any
	versions map[string]*semver.Version
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[string]any),
		versions: make(map[string]*semver.Version),
	}
}

// Publish records a plugin's capability object. A second publish under the
// same name within a boot cycle is rejected.
func (r *Registry) Publish(name string, version *semver.Version, capability any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.caps[name]; ok {
		return ErrDuplicateCapability(name)
	}
	r.caps[name] = capability
	r.versions[name] = version
	return nil
}

// Capability returns the capability object published under name.
func (r *Registry) Capability(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capability, ok := r.caps[name]
	return capability, ok
}

// Version returns the version of the plugin published under name.
func (r *Registry) Version(name string) (*semver.Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[name]
	return v, ok
}

// Loaded reports whether a plugin has published a capability.
func (r *Registry) Loaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.caps[name]
	return ok
}

// Names returns the names of all published plugins. The returned slice is
// a copy and safe to modify.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	return names
}

// Remove withdraws a plugin's capability. Used during unload.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.caps, name)
	delete(r.versions, name)
}

// Clear empties the registry between boot cycles.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.caps = make(map[string]any)
	r.versions = make(map[string]*semver.Version)
}
