// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan/castellan/internal/config"
)

// HostStatus holds the health information for a running host.
type HostStatus struct {
	Alive   bool   `json:"alive"`
	Ready   bool   `json:"ready"`
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
	jsonOutput  bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running Castellan host",
		Long:  `Query the observability endpoints of a running host for liveness and readiness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", config.Default().MetricsAddr, "metrics/health address of the host")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryHostStatus(cmd.Context(), cfg.metricsAddr)

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format status: %w", err)
		}
		cmd.Println(string(out))
		return nil
	}

	switch {
	case !status.Alive:
		cmd.Printf("host at %s: not running (%s)\n", status.Address, status.Error)
	case !status.Ready:
		cmd.Printf("host at %s: alive, not ready\n", status.Address)
	default:
		cmd.Printf("host at %s: alive and ready\n", status.Address)
	}
	return nil
}

// queryHostStatus probes both health endpoints. Liveness failing means
// the process is down or unreachable; readiness failing means it is up
// but still loading plugins.
func queryHostStatus(ctx context.Context, addr string) HostStatus {
	status := HostStatus{Address: addr}
	client := &http.Client{Timeout: 2 * time.Second}

	ok, err := probe(ctx, client, "http://"+addr+"/healthz/liveness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Alive = ok

	ok, err = probe(ctx, client, "http://"+addr+"/healthz/readiness")
	if err == nil {
		status.Ready = ok
	}
	return status
}

func probe(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}
