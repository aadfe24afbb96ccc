// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the host is ready to accept traffic.
type ReadinessChecker func() bool

// Package-level counters so dispatch-path code can record without holding
// a Server reference.
var (
	commandDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castellan_command_dispatches_total",
			Help: "Total command dispatches by outcome",
		},
		[]string{"outcome"},
	)
	eventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castellan_events_routed_total",
			Help: "Total event handler invocations by result",
		},
		[]string{"result"},
	)
	hubDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castellan_hub_deliveries_total",
			Help: "Total hub message deliveries by scope and result",
		},
		[]string{"scope", "result"},
	)
	migrationRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castellan_migration_records_total",
			Help: "Total migration records processed by result",
		},
		[]string{"result"},
	)
)

// RecordCommandDispatch increments the dispatch counter for an outcome.
func RecordCommandDispatch(outcome string) {
	commandDispatches.WithLabelValues(outcome).Inc()
}

// RecordEventRouted increments the routed-event counter.
// result is "ok" or "error".
func RecordEventRouted(result string) {
	eventsRouted.WithLabelValues(result).Inc()
}

// RecordHubDelivery increments the hub delivery counter.
// scope is "guild" or "global"; result is "delivered", "dropped", or "filtered".
func RecordHubDelivery(scope, result string) {
	hubDeliveries.WithLabelValues(scope, result).Inc()
}

// RecordMigrationRecord increments the migration record counter.
// result is "imported" or "skipped".
func RecordMigrationRecord(result string) {
	migrationRecords.WithLabelValues(result).Inc()
}

// Metrics contains custom Prometheus metrics for Castellan.
type Metrics struct {
	PluginsLoaded  prometheus.Gauge
	HubConnections prometheus.Gauge
}

// NewMetrics creates and registers Castellan metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "castellan_plugins_loaded",
			Help: "Number of currently loaded plugins",
		}),
		HubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "castellan_hub_connections",
			Help: "Number of connected real-time clients",
		}),
	}

	reg.MustRegister(m.PluginsLoaded)
	reg.MustRegister(m.HubConnections)
	reg.MustRegister(commandDispatches)
	reg.MustRegister(eventsRouted)
	reg.MustRegister(hubDeliveries)
	reg.MustRegister(migrationRecords)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Dedicated registry keeps the global default clean for tests.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints. It returns an error
// channel that receives any error from the HTTP server after startup; the
// channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" if stopped.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable
	w.Write([]byte("not ready\n"))
}
