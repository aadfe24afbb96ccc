// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan/castellan/internal/config"
	"github.com/castellan/castellan/internal/host"
	"github.com/castellan/castellan/internal/logging"
	"github.com/castellan/castellan/internal/migration"
)

// newMigrateCmd creates the migrate subcommand and its mode subcommands.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run a data migration job",
		Long: `Run a migration job against the loaded plugin set. Steps run
strictly sequentially; a failed record is skipped and counted, a failed
step terminates the job without rollback.`,
	}

	cmd.AddCommand(newMigrateImportCmd())
	cmd.AddCommand(newMigrateCloneCmd())
	return cmd
}

// newMigrateImportCmd creates the import subcommand.
func newMigrateImportCmd() *cobra.Command {
	var snapshotPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import from a legacy-format snapshot file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := migration.LoadSnapshot(snapshotPath)
			if err != nil {
				return err
			}
			return runMigration(cmd, migration.ModeImport, migration.SourceSet{Snapshot: snap})
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot file path (JSON or YAML)")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

// newMigrateCloneCmd creates the clone subcommand.
func newMigrateCloneCmd() *cobra.Command {
	var peerURL string

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone live data from a peer instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			peer := migration.NewHTTPPeer(peerURL, &http.Client{Timeout: 30 * time.Second})
			return runMigration(cmd, migration.ModeClone, migration.SourceSet{Peer: peer})
		},
	}

	cmd.Flags().StringVar(&peerURL, "peer", "", "peer instance base URL")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

// runMigration boots a host, runs one migration job against the loaded
// plugins, prints the terminal result, and shuts down. A job with a
// failed step or skipped records exits non-zero so operators notice.
func runMigration(cmd *cobra.Command, mode migration.Mode, src migration.SourceSet) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	logging.SetDefault("castellan", version, cfg.LogFormat)
	logger := slog.Default()

	h, err := host.New(cfg, logger, builtinManifests)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if failures := h.Boot(ctx); len(failures) > 0 {
		for _, f := range failures {
			cmd.PrintErrf("plugin %s failed to load: %v\n", f.Plugin, f.Err)
		}
	}
	defer h.Shutdown(ctx)

	result, err := h.RunMigration(ctx, mode, src)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	cmd.Println(string(out))

	if !result.Success {
		return fmt.Errorf("migration job %s failed after %d/%d steps",
			result.JobID, result.StepsCompleted, result.StepsTotal)
	}
	return nil
}
