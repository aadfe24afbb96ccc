// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package observability_test

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/observability"
)

func startServer(t *testing.T, ready observability.ReadinessChecker) *observability.Server {
	t.Helper()
	s := observability.NewServer("127.0.0.1:0", ready)
	errCh, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		for range errCh { //nolint:revive // drain until closed
		}
	})
	return s
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // local test endpoint
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Liveness(t *testing.T) {
	s := startServer(t, nil)

	code, body := get(t, "http://"+s.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestServer_ReadinessFollowsChecker(t *testing.T) {
	var ready atomic.Bool
	s := startServer(t, ready.Load)

	code, _ := get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready.Store(true)
	code, _ = get(t, "http://"+s.Addr()+"/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_MetricsExposed(t *testing.T) {
	s := startServer(t, nil)
	s.Metrics().PluginsLoaded.Set(3)
	s.Metrics().HubConnections.Set(1)
	observability.RecordCommandDispatch("ok")
	observability.RecordHubDelivery("guild", "delivered")

	code, body := get(t, "http://"+s.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "castellan_plugins_loaded 3")
	assert.Contains(t, body, "castellan_hub_connections 1")
	assert.Contains(t, body, "castellan_command_dispatches_total")
	assert.Contains(t, body, "castellan_hub_deliveries_total")
}

func TestServer_DoubleStartRejected(t *testing.T) {
	s := startServer(t, nil)

	_, err := s.Start()
	require.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	s := observability.NewServer("127.0.0.1:0", nil)
	errCh, err := s.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	_, open := <-errCh
	assert.False(t, open, "error channel closes on graceful stop")
}
