// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/castellan/castellan/internal/hub"
)

// Error codes for the WebSocket boundary.
const (
	CodeBadGrant = "BAD_CAPABILITY_GRANT"
	CodeBadFrame = "BAD_CLIENT_FRAME"
)

// ErrBadGrant creates an error for an unparsable capability pattern.
func ErrBadGrant(pattern string, cause error) error {
	return oops.Code(CodeBadGrant).
		With("pattern", pattern).
		Wrap(cause)
}

// grantsHeader carries the comma-separated capability patterns granted to
// the connection. It is set by the upstream auth layer; dashboard
// authentication itself is out of scope here.
const grantsHeader = "X-Castellan-Capabilities"

// clientFrame is one control frame from the dashboard client.
type clientFrame struct {
	Op      string `json:"op"` // "join" or "leave"
	GuildID string `json:"guild_id"`
}

// Server upgrades dashboard connections and bridges them to the hub:
// join/leave frames manage room membership, published messages flow back
// as JSON frames. A reconnecting client receives nothing retroactively
// and must re-fetch authoritative state itself.
type Server struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
	onCount  func(delta int)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithConnectionGauge reports connection count changes, typically into a
// prometheus gauge.
func WithConnectionGauge(fn func(delta int)) ServerOption {
	return func(s *Server) {
		s.onCount = fn
	}
}

// NewServer creates the WebSocket boundary over a hub.
func NewServer(h *hub.Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				// Origin policy is enforced by the fronting proxy.
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the dashboard WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	grants := parseGrants(r.Header.Get(grantsHeader))

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c, err := newConn(sock, grants)
	if err != nil {
		s.logger.Warn("rejecting connection with bad grants", "error", err)
		//nolint:errcheck // best-effort close on a connection being rejected
		sock.Close()
		return
	}

	s.hub.Attach(c)
	if s.onCount != nil {
		s.onCount(1)
	}
	s.logger.Info("dashboard client connected", "conn_id", c.id.String())

	defer func() {
		s.hub.Disconnect(c.id)
		if s.onCount != nil {
			s.onCount(-1)
		}
		//nolint:errcheck // connection is already going away
		sock.Close()
		s.logger.Info("dashboard client disconnected", "conn_id", c.id.String())
	}()

	for {
		var frame clientFrame
		if err := sock.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("dashboard client read error",
					"conn_id", c.id.String(),
					"error", err)
			}
			return
		}

		switch frame.Op {
		case "join":
			s.hub.JoinGuildRoom(c, frame.GuildID)
		case "leave":
			s.hub.LeaveGuildRoom(c, frame.GuildID)
		default:
			s.logger.Warn("unknown client frame op",
				"conn_id", c.id.String(),
				"op", frame.Op)
		}
	}
}

func parseGrants(header string) []string {
	if header == "" {
		return nil
	}
	var grants []string
	for _, p := range strings.Split(header, ",") {
		if p = strings.TrimSpace(p); p != "" {
			grants = append(grants, p)
		}
	}
	return grants
}
