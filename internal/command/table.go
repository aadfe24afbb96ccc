// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package command

import (
	"sync"
)

// Table aggregates the command routes contributed by loaded plugins,
// keyed by (command, subcommand) path.
// It is thread-safe for concurrent access.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{
		routes: make(map[string]Route),
	}
}

// Register adds a route. Registering a path twice is a configuration
// error: the second registration is rejected with DUPLICATE_ROUTE.
func (t *Table) Register(route Route) error {
	if route.Command == "" {
		return ErrInvalidRoute("command name is required")
	}
	if route.Handler == nil {
		return ErrInvalidRoute("handler is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := route.Path()
	if existing, ok := t.routes[path]; ok {
		return ErrDuplicateRoute(path, existing.Plugin, route.Plugin)
	}
	t.routes[path] = route
	return nil
}

// Get retrieves a route by its exact path.
func (t *Table) Get(path string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	route, ok := t.routes[path]
	return route, ok
}

// All returns all registered routes. The returned slice is a copy and
// safe to modify.
func (t *Table) All() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	routes := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		routes = append(routes, r)
	}
	return routes
}

// RemovePlugin drops every route owned by the named plugin. Used when a
// plugin is unloaded or the host reloads.
func (t *Table) RemovePlugin(plugin string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for path, route := range t.routes {
		if route.Plugin == plugin {
			delete(t.routes, path)
		}
	}
}

// Clear empties the table between boot cycles.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.routes = make(map[string]Route)
}
