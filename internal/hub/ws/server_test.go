// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package ws_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/hub/ws"
)

type wsFixture struct {
	hub    *hub.Hub
	server *httptest.Server
	gauge  atomic.Int64
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{hub: hub.New(nil)}
	srv := ws.NewServer(f.hub, nil, ws.WithConnectionGauge(func(delta int) {
		f.gauge.Add(int64(delta))
	}))
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

// dial opens a dashboard connection with the given capability grants.
func (f *wsFixture) dial(t *testing.T, grants string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	if grants != "" {
		header.Set("X-Castellan-Capabilities", grants)
	}
	sock, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func join(t *testing.T, sock *websocket.Conn, guildID string) {
	t.Helper()
	require.NoError(t, sock.WriteJSON(map[string]string{"op": "join", "guild_id": guildID}))
}

func readMessage(t *testing.T, sock *websocket.Conn) hub.Message {
	t.Helper()
	require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg hub.Message
	require.NoError(t, sock.ReadJSON(&msg))
	return msg
}

func TestServer_JoinAndReceive(t *testing.T) {
	f := newFixture(t)
	sock := f.dial(t, "")

	join(t, sock, "g1")
	require.Eventually(t, func() bool { return f.hub.RoomSize("g1") == 1 },
		time.Second, 10*time.Millisecond)

	f.hub.PublishGuild("g1", "tags.updated", map[string]any{"name": "greeting"})

	msg := readMessage(t, sock)
	assert.Equal(t, "tags.updated", msg.Event)
	assert.Equal(t, "g1", msg.GuildID)
}

func TestServer_GlobalDeliveryWithoutJoin(t *testing.T) {
	f := newFixture(t)
	sock := f.dial(t, "")

	require.Eventually(t, func() bool { return f.hub.Connections() == 1 },
		time.Second, 10*time.Millisecond)

	f.hub.PublishGlobal("migration.progress", nil)

	msg := readMessage(t, sock)
	assert.Equal(t, "migration.progress", msg.Event)
}

func TestServer_CapabilityFiltering(t *testing.T) {
	f := newFixture(t)
	granted := f.dial(t, "tags.*")
	denied := f.dial(t, "music.*")

	require.Eventually(t, func() bool { return f.hub.Connections() == 2 },
		time.Second, 10*time.Millisecond)

	f.hub.PublishGlobal("tags.updated", nil, hub.WithRequiredCapability("tags.read"))
	// A marker everyone may see, proving the filtered message was skipped,
	// not queued.
	f.hub.PublishGlobal("marker", nil)

	msg := readMessage(t, granted)
	assert.Equal(t, "tags.updated", msg.Event)

	msg = readMessage(t, denied)
	assert.Equal(t, "marker", msg.Event)
}

func TestServer_GrantCrossSegmentPattern(t *testing.T) {
	f := newFixture(t)
	sock := f.dial(t, "**")

	require.Eventually(t, func() bool { return f.hub.Connections() == 1 },
		time.Second, 10*time.Millisecond)

	f.hub.PublishGlobal("tags.updated", nil, hub.WithRequiredCapability("tags.admin.read"))

	msg := readMessage(t, sock)
	assert.Equal(t, "tags.updated", msg.Event)
}

func TestServer_LeaveStopsRoomDelivery(t *testing.T) {
	f := newFixture(t)
	sock := f.dial(t, "")

	join(t, sock, "g1")
	require.Eventually(t, func() bool { return f.hub.RoomSize("g1") == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sock.WriteJSON(map[string]string{"op": "leave", "guild_id": "g1"}))
	require.Eventually(t, func() bool { return f.hub.RoomSize("g1") == 0 },
		time.Second, 10*time.Millisecond)

	f.hub.PublishGuild("g1", "tags.updated", nil)
	f.hub.PublishGlobal("marker", nil)

	msg := readMessage(t, sock)
	assert.Equal(t, "marker", msg.Event)
}

func TestServer_DisconnectUpdatesGaugeAndRooms(t *testing.T) {
	f := newFixture(t)
	sock := f.dial(t, "")

	join(t, sock, "g1")
	require.Eventually(t, func() bool { return f.gauge.Load() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sock.Close())

	require.Eventually(t, func() bool { return f.gauge.Load() == 0 },
		time.Second, 10*time.Millisecond)
	assert.Zero(t, f.hub.Connections())
	assert.Zero(t, f.hub.RoomSize("g1"))
}

func TestServer_BadGrantRejectsConnection(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("X-Castellan-Capabilities", "tags.[")

	sock, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err == nil {
		// The upgrade may succeed before the server closes on us; the read
		// must fail either way and nothing may stay attached.
		require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg hub.Message
		require.Error(t, sock.ReadJSON(&msg))
		_ = sock.Close()
	}
	assert.Zero(t, f.hub.Connections())
}
