// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package ping is the smallest built-in plugin: a liveness command and a
// capability other plugins can use to check host health.
package ping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan/castellan/internal/command"
	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/plugin"
)

// Service is the capability object ping publishes.
type Service struct {
	hub     *hub.Hub
	started time.Time
}

// Uptime returns how long the plugin has been loaded.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

// Manifest builds the ping plugin manifest.
func Manifest(h *hub.Hub) *plugin.Manifest {
	var svc *Service

	return &plugin.Manifest{
		Name:    "ping",
		Version: "1.0.0",
		Commands: []command.Route{
			{
				Command: "ping",
				AllowDM: true,
				Help:    "Check that the host is alive",
				Usage:   "ping",
				Handler: func(ctx context.Context, exec *command.Execution) error {
					reply := fmt.Sprintf("pong (up %s)", svc.Uptime().Round(time.Second))
					return exec.Reply(ctx, reply)
				},
			},
		},
		Load: func(_ context.Context, pctx *plugin.Context) (any, error) {
			svc = &Service{hub: h, started: time.Now()}
			pctx.Logger().Info("ping ready")
			return svc, nil
		},
		Unload: func(_ context.Context, logger *slog.Logger) error {
			logger.Info("ping stopped", "uptime", svc.Uptime().String())
			return nil
		},
	}
}
