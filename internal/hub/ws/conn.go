// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package ws is the WebSocket transport boundary for the broadcast hub.
// It owns the per-recipient permission check: a message carrying a
// required-capability tag is delivered only to connections whose granted
// capability patterns match it.
package ws

import (
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/castellan/castellan/internal/hub"
	"github.com/castellan/castellan/internal/observability"
)

// writeTimeout bounds one frame write so a stalled client cannot block a
// publisher indefinitely.
const writeTimeout = 10 * time.Second

// conn adapts one WebSocket client to hub.Conn.
type conn struct {
	id     ulid.ULID
	sock   *websocket.Conn
	grants []compiledGrant

	writeMu sync.Mutex
}

// compiledGrant holds a capability pattern and its compiled glob.
// Patterns use '.' as the segment separator: '*' matches one segment,
// '**' crosses segments.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

func newConn(sock *websocket.Conn, grants []string) (*conn, error) {
	c := &conn{
		id:   ulid.Make(),
		sock: sock,
	}
	for _, pattern := range grants {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, ErrBadGrant(pattern, err)
		}
		c.grants = append(c.grants, compiledGrant{pattern: pattern, glob: g})
	}
	return c, nil
}

// ID implements hub.Conn.
func (c *conn) ID() ulid.ULID { return c.id }

// Send implements hub.Conn. Messages the connection lacks permission for
// are filtered silently; that is this boundary's responsibility, not the
// hub's.
func (c *conn) Send(msg hub.Message) error {
	if msg.RequiredCapability != "" && !c.allowed(msg.RequiredCapability) {
		scope := "global"
		if msg.GuildID != "" {
			scope = "guild"
		}
		observability.RecordHubDelivery(scope, "filtered")
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.sock.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	//nolint:wrapcheck // transport error is handled by the caller's disconnect path
	return c.sock.WriteJSON(msg)
}

func (c *conn) allowed(capability string) bool {
	for _, g := range c.grants {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}
