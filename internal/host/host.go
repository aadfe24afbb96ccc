// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package host assembles the plugin kernel, dispatch layers, broadcast
// hub, and observability into one runnable service.
package host

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/command"
	"github.com/castellan/castellan/internal/config"
	"github.com/castellan/castellan/internal/event"
	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/hub/ws"
	"github.com/castellan/castellan/internal/migration"
	"github.com/castellan/castellan/internal/observability"
	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/pkg/errutil"
)

// Host owns the kernel state for one process: created at boot, cleared at
// shutdown or reload, passed by reference to collaborators. Nothing here
// lives in package-level globals.
type Host struct {
	cfg       config.Config
	logger    *slog.Logger
	manifests []*plugin.Manifest

	registry     *plugin.Registry
	loader       *plugin.Loader
	table        *command.Table
	dispatcher   *command.Dispatcher
	router       *event.Router
	hub          *hub.Hub
	orchestrator *migration.Orchestrator

	obs        *observability.Server
	wsServer   *ws.Server
	httpServer *http.Server
	ready      atomic.Bool
}

// ManifestBuilder produces the compiled-in plugin set. It receives the
// hub so plugins can publish change notifications.
type ManifestBuilder func(h *hub.Hub) []*plugin.Manifest

// New wires a host from configuration and the compiled-in plugin set.
func New(cfg config.Config, logger *slog.Logger, build ManifestBuilder) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := hub.New(logger)
	var manifests []*plugin.Manifest
	if build != nil {
		manifests = build(h)
	}

	registry := plugin.NewRegistry()
	loader := plugin.NewLoader(registry,
		plugin.WithLoadTimeout(cfg.LoadTimeout()),
		plugin.WithLogger(logger))

	table := command.NewTable()
	dispatcher, err := command.NewDispatcher(table, cfg.Owners, registry.Capability,
		command.WithDispatchLogger(logger))
	if err != nil {
		return nil, err
	}

	router := event.NewRouter(registry.Loaded, logger)
	orchestrator := migration.New(h,
		migration.WithStepTimeout(cfg.StepTimeout()),
		migration.WithLogger(logger))

	host := &Host{
		cfg:          cfg,
		logger:       logger,
		manifests:    manifests,
		registry:     registry,
		loader:       loader,
		table:        table,
		dispatcher:   dispatcher,
		router:       router,
		hub:          h,
		orchestrator: orchestrator,
	}
	// Readiness flips once the boot/reload load cycle finishes.
	host.obs = observability.NewServer(cfg.MetricsAddr, host.ready.Load)
	host.wsServer = ws.NewServer(h, logger, ws.WithConnectionGauge(func(delta int) {
		host.obs.Metrics().HubConnections.Add(float64(delta))
	}))

	return host, nil
}

// Boot runs one load cycle: plugins load in dependency order, then the
// loaded plugins' command routes and event registrations are installed.
// Per-plugin failures are returned, not fatal.
func (h *Host) Boot(ctx context.Context) []plugin.LoadFailure {
	failures := h.loader.Load(ctx, h.manifests)
	for _, f := range failures {
		errutil.LogError(h.logger, "plugin failed to load", f.Err)
	}

	for _, m := range h.loader.Loaded() {
		h.install(m)
	}

	h.obs.Metrics().PluginsLoaded.Set(float64(len(h.loader.Loaded())))
	h.ready.Store(true)
	return failures
}

// install registers one loaded plugin's command and event contributions.
// A duplicate route is a configuration error: logged, the route dropped,
// the plugin otherwise left running.
func (h *Host) install(m *plugin.Manifest) {
	for _, route := range m.Commands {
		route.Plugin = m.Name
		if err := h.table.Register(route); err != nil {
			errutil.LogError(h.logger, "command route rejected", err)
		}
	}
	for _, reg := range m.Events {
		reg.Plugin = m.Name
		if err := h.router.Register(reg); err != nil {
			errutil.LogError(h.logger, "event registration rejected", err)
		}
	}
}

// Shutdown unloads plugins in reverse load order and clears dispatch
// state for the next boot cycle.
func (h *Host) Shutdown(ctx context.Context) {
	h.ready.Store(false)
	h.loader.Unload(ctx)
	h.table.Clear()
	h.router.Clear()
	h.obs.Metrics().PluginsLoaded.Set(0)
}

// Reload fully unloads the current cycle, then boots again with the same
// manifest set. Capability objects are never replaced in place.
func (h *Host) Reload(ctx context.Context) []plugin.LoadFailure {
	h.logger.Info("reloading plugins")
	h.Shutdown(ctx)
	return h.Boot(ctx)
}

// Run boots the host, serves the dashboard and observability endpoints,
// and blocks until ctx is done, then shuts everything down.
func (h *Host) Run(ctx context.Context) error {
	h.Boot(ctx)

	obsErr, err := h.obs.Start()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return oops.With("addr", h.cfg.ListenAddr).Wrap(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", h.wsServer.Handler())
	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.httpServer = httpSrv

	httpErr := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			httpErr <- serveErr
		}
	}()
	h.logger.Info("host started",
		"listen", listener.Addr().String(),
		"config", h.cfg.String())

	select {
	case <-ctx.Done():
	case err = <-httpErr:
		errutil.LogError(h.logger, "dashboard server failed", err)
	case err = <-obsErr:
		errutil.LogError(h.logger, "observability server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	//nolint:errcheck // shutdown errors are non-actionable at exit
	httpSrv.Shutdown(shutdownCtx)
	//nolint:errcheck // shutdown errors are non-actionable at exit
	h.obs.Stop(shutdownCtx)
	h.Shutdown(shutdownCtx)

	h.logger.Info("host stopped")
	return err
}

// HandleCommand is the platform boundary for inbound command invocations.
func (h *Host) HandleCommand(ctx context.Context, inv *command.Invocation) command.Outcome {
	return h.dispatcher.Dispatch(ctx, inv)
}

// HandleEvent is the platform boundary for inbound platform events. The
// router is purely reactive to this feed and keeps no offset across
// restarts.
func (h *Host) HandleEvent(ctx context.Context, eventType string, args any) {
	h.router.Dispatch(ctx, eventType, args)
}

// RunMigration collects steps from loaded plugins (in load order) and
// executes them as one sequential job.
func (h *Host) RunMigration(ctx context.Context, mode migration.Mode, src migration.SourceSet) (migration.Result, error) {
	var steps []migration.Step
	for _, m := range h.loader.Loaded() {
		capability, ok := h.registry.Capability(m.Name)
		if !ok {
			continue
		}
		provider, ok := capability.(migration.StepProvider)
		if !ok {
			continue
		}
		provided, err := provider.MigrationSteps(mode, src)
		if err != nil {
			return migration.Result{}, migration.ErrStep(m.Name, err)
		}
		steps = append(steps, provided...)
	}
	return h.orchestrator.Run(ctx, mode, steps), nil
}

// Hub exposes the broadcast hub to feature handlers and the API layer.
func (h *Host) Hub() *hub.Hub { return h.hub }

// Registry exposes capability lookup to collaborators.
func (h *Host) Registry() *plugin.Registry { return h.registry }
