// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package event routes inbound platform events to plugin handlers.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/observability"
	"github.com/castellan/castellan/pkg/errutil"
)

// CodeHandlerFailed tags an event handler error caught at the router
// boundary.
const CodeHandlerFailed = "EVENT_HANDLER_FAILED"

// Handler processes one platform event. The returned error is logged by
// the router and never propagated; handlers report failure, they do not
// escalate it.
type Handler func(ctx context.Context, args any) error

// Registration binds a handler to an event type under an owning plugin.
// Multiple registrations per event type are allowed and all are invoked.
type Registration struct {
	Type    string
	Plugin  string
	Handler Handler
	// Once registrations are removed after their first invocation,
	// regardless of whether that invocation fails.
	Once bool
}

// LoadedFunc reports whether a plugin is currently loaded. Handlers of
// unloaded plugins are skipped at dispatch time.
type LoadedFunc func(plugin string) bool

// Router fans inbound platform events out to registered handlers,
// independent of the command dispatcher. Handlers for one event run in
// registration order; one handler failing never prevents the rest from
// running.
type Router struct {
	mu     sync.Mutex
	regs   map[string][]*Registration
	loaded LoadedFunc
	logger *slog.Logger
}

// NewRouter creates a router. loaded may be nil, in which case every
// registration's owner is considered loaded.
func NewRouter(loaded LoadedFunc, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		regs:   make(map[string][]*Registration),
		loaded: loaded,
		logger: logger,
	}
}

// Register adds a handler registration for its event type.
func (r *Router) Register(reg Registration) error {
	if reg.Type == "" {
		return oops.Errorf("event type is required")
	}
	if reg.Handler == nil {
		return oops.Errorf("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.regs[reg.Type] = append(r.regs[reg.Type], &reg)
	return nil
}

// Dispatch invokes every registration for eventType whose owning plugin is
// loaded. One-shot registrations are removed before invocation. Handler
// errors and panics are caught and logged with plugin and event context.
func (r *Router) Dispatch(ctx context.Context, eventType string, args any) {
	r.mu.Lock()
	var run []*Registration
	kept := r.regs[eventType][:0]
	for _, reg := range r.regs[eventType] {
		if r.loaded != nil && reg.Plugin != "" && !r.loaded(reg.Plugin) {
			kept = append(kept, reg)
			continue
		}
		run = append(run, reg)
		if !reg.Once {
			kept = append(kept, reg)
		}
	}
	r.regs[eventType] = kept
	r.mu.Unlock()

	for _, reg := range run {
		if err := r.invoke(ctx, reg, args); err != nil {
			wrapped := oops.Code(CodeHandlerFailed).
				With("plugin", reg.Plugin).
				With("event_type", eventType).
				Wrap(err)
			errutil.LogError(r.logger, "event handler failed", wrapped)
			observability.RecordEventRouted("error")
			continue
		}
		observability.RecordEventRouted("ok")
	}
}

// RemovePlugin drops every registration owned by the named plugin.
func (r *Router) RemovePlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for eventType, regs := range r.regs {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.Plugin != plugin {
				kept = append(kept, reg)
			}
		}
		r.regs[eventType] = kept
	}
}

// Clear empties all registrations between boot cycles.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.regs = make(map[string][]*Registration)
}

// HandlerCount returns the number of registrations for an event type.
func (r *Router) HandlerCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs[eventType])
}

func (r *Router) invoke(ctx context.Context, reg *Registration, args any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = oops.With("panic", fmt.Sprint(rec)).Errorf("handler panicked")
		}
	}()
	return reg.Handler(ctx, args)
}
