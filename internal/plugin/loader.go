// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/logging"
	"github.com/castellan/castellan/pkg/errutil"
)

// defaultLoadTimeout bounds a single load or unload hook. A hook that
// blocks past it is recorded as a load failure rather than hanging boot.
const defaultLoadTimeout = 30 * time.Second

// LoadFailure records one plugin that did not load, and why.
type LoadFailure struct {
	Plugin string
	Err    error
}

// Loader resolves the dependency graph over a set of manifests, loads
// plugins in topological order, and publishes their capability objects to
// the registry. Failures are isolated per plugin: one bad plugin never
// aborts the rest of the boot.
type Loader struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	env      EnvFunc

	mu        sync.Mutex
	bootID    ulid.ULID
	order     []string
	manifests map[string]*Manifest
}

// LoaderOption configures a Loader.
//
//nolint:revive // stutter accepted for symmetry with other option types
type LoaderOption func(*Loader)

// WithLoadTimeout bounds each load and unload hook.
func WithLoadTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithEnv overrides environment lookup for plugin contexts.
func WithEnv(env EnvFunc) LoaderOption {
	return func(l *Loader) {
		l.env = env
	}
}

// NewLoader creates a loader that publishes into registry.
func NewLoader(registry *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry:  registry,
		timeout:   defaultLoadTimeout,
		logger:    slog.Default(),
		manifests: make(map[string]*Manifest),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs one boot cycle: validate manifests, reject cycles, load the
// rest in dependency order, and publish capabilities. The returned slice
// holds one entry per plugin that did not load.
func (l *Loader) Load(ctx context.Context, manifests []*Manifest) []LoadFailure {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bootID = ulid.Make()
	var failures []LoadFailure

	valid := make([]*Manifest, 0, len(manifests))
	seen := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		if err := m.Validate(); err != nil {
			failures = append(failures, LoadFailure{Plugin: m.Name, Err: ErrInvalidManifest(m.Name, err)})
			continue
		}
		if seen[m.Name] {
			failures = append(failures, LoadFailure{Plugin: m.Name, Err: ErrDuplicateName(m.Name)})
			continue
		}
		seen[m.Name] = true
		valid = append(valid, m)
	}

	g := buildGraph(valid)

	// Every participant of a cycle fails boot; everyone else proceeds.
	excluded := make([]bool, len(valid))
	for _, cycle := range g.cycles() {
		err := ErrDependencyCycle(cycle)
		for _, name := range cycle {
			i := g.index[name]
			if excluded[i] {
				continue
			}
			excluded[i] = true
			failures = append(failures, LoadFailure{Plugin: name, Err: err})
		}
	}

	for _, i := range g.topoOrder(excluded) {
		m := valid[i]
		if err := l.loadOne(ctx, m); err != nil {
			failures = append(failures, LoadFailure{Plugin: m.Name, Err: err})
			errutil.LogError(l.logger, "plugin load failed", err)
			continue
		}
		l.order = append(l.order, m.Name)
		l.manifests[m.Name] = m
		l.logger.Info("plugin loaded",
			"plugin", m.Name,
			"version", m.Version,
			"boot_id", l.bootID.String())
	}

	return failures
}

// loadOne resolves dependencies, builds the plugin context, and runs the
// load hook under the bounded timeout.
func (l *Loader) loadOne(ctx context.Context, m *Manifest) error {
	deps := make(map[string]any, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		capability, ok := l.registry.Capability(dep.Name)
		if ok && dep.Constraint != "" {
			version, _ := l.registry.Version(dep.Name)
			constraint, _ := semverConstraint(dep.Constraint)
			if version == nil || !constraint.Check(version) {
				got := "unknown"
				if version != nil {
					got = version.String()
				}
				if !dep.Optional {
					return ErrDependencyVersion(m.Name, dep.Name, dep.Constraint, got)
				}
				l.logger.Warn("optional dependency version mismatch, omitted",
					"plugin", m.Name,
					"dependency", dep.Name,
					"constraint", dep.Constraint,
					"version", got)
				continue
			}
		}
		if !ok {
			if !dep.Optional {
				return ErrDependencyMissing(m.Name, dep.Name)
			}
			l.logger.Debug("optional dependency not loaded, omitted",
				"plugin", m.Name,
				"dependency", dep.Name)
			continue
		}
		deps[dep.Name] = capability
	}

	pctx := &Context{
		plugin: m.Name,
		deps:   deps,
		logger: logging.ForPlugin(l.logger, m.Name),
		env:    l.env,
	}

	capability, err := l.runHook(ctx, m.Name, func(hookCtx context.Context) (any, error) {
		return m.Load(hookCtx, pctx)
	})
	if err != nil {
		return ErrPluginLoad(m.Name, err)
	}

	return l.registry.Publish(m.Name, m.version(), capability)
}

// runHook executes fn under the load timeout, converting panics to errors.
// A hook that outlives the timeout is abandoned; its goroutine is leaked
// deliberately so boot can continue, and the leak is logged.
func (l *Loader) runHook(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	hookCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		capability any
		err        error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: oops.With("panic", fmt.Sprint(r)).Errorf("hook panicked")}
			}
		}()
		capability, err := fn(hookCtx)
		done <- result{capability: capability, err: err}
	}()

	select {
	case res := <-done:
		return res.capability, res.err
	case <-hookCtx.Done():
		l.logger.Warn("plugin hook abandoned after timeout",
			"plugin", name,
			"timeout", l.timeout.String())
		return nil, hookCtx.Err()
	}
}

// Unload invokes each loaded plugin's unload hook in reverse load order.
// Individual unload failures are logged and do not abort the sequence.
// The registry is cleared for the next boot cycle.
func (l *Loader) Unload(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.order) - 1; i >= 0; i-- {
		name := l.order[i]
		m := l.manifests[name]
		if m.Unload != nil {
			logger := logging.ForPlugin(l.logger, name)
			_, err := l.runHook(ctx, name, func(hookCtx context.Context) (any, error) {
				return nil, m.Unload(hookCtx, logger)
			})
			if err != nil {
				errutil.LogError(l.logger, "plugin unload failed", ErrPluginLoad(name, err))
			}
		}
		l.registry.Remove(name)
		l.logger.Info("plugin unloaded", "plugin", name)
	}

	l.order = nil
	l.manifests = make(map[string]*Manifest)
	l.registry.Clear()
}

// Loaded returns the manifests of successfully loaded plugins, in load
// order. The returned slice is a copy.
func (l *Loader) Loaded() []*Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Manifest, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.manifests[name])
	}
	return out
}

// BootID identifies the current boot cycle in logs and progress events.
func (l *Loader) BootID() ulid.ULID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bootID
}
