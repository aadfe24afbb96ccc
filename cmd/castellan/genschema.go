// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/castellan/castellan/internal/migration"
)

// newGenSchemaCmd creates the gen-schema subcommand.
func newGenSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the migration snapshot JSON Schema",
		Long: `Generate the JSON Schema that external producers validate their
export files against before feeding them to 'castellan migrate import'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := migration.GenerateSnapshotSchema()
			if err != nil {
				return err
			}

			if outPath == "" {
				cmd.Println(string(schema))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, schema, 0o600); err != nil {
				return err
			}
			cmd.Printf("Generated %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "output file path (default: stdout)")
	return cmd
}
