// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/castellan/castellan/internal/config"
	"github.com/castellan/castellan/internal/host"
	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/logging"
	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/plugins/ping"
	"github.com/castellan/castellan/plugins/tags"
)

// builtinManifests is the compiled-in plugin set. Plugins receive the
// hub so they can publish change notifications to dashboard rooms.
func builtinManifests(h *hub.Hub) []*plugin.Manifest {
	return []*plugin.Manifest{
		ping.Manifest(h),
		tags.Manifest(h),
	}
}

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin host",
		Long: `Start the plugin host: load plugins in dependency order, serve
the dashboard websocket endpoint, and expose metrics and health.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("listen-addr", defaults.ListenAddr, "dashboard/websocket listen address")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("owners", "", "comma-separated owner identities for owner-only commands")

	return cmd
}

// runServe loads configuration and runs the host until the command
// context is cancelled.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("castellan", version, cfg.LogFormat)
	logger := slog.Default()

	h, err := host.New(cfg, logger, builtinManifests)
	if err != nil {
		return err
	}

	cmd.Println("Castellan host started")
	return h.Run(cmd.Context())
}
