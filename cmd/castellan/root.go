// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Castellan CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "castellan",
		Short: "Castellan - a plugin host for guild communities",
		Long: `Castellan is a long-running plugin host: it loads plugins in
dependency order, routes commands and platform events to them, and
streams real-time change notifications to dashboard clients.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newGenSchemaCmd())

	return cmd
}
