// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package hub is the publish/subscribe layer for real-time change
// notifications, with per-guild rooms and one global room.
//
// Delivery is at-most-once with no persistence and no replay: a
// connection not subscribed to a room at publish time never receives that
// message, even retroactively. The hub does not enforce authorization;
// callers may attach a required-capability tag that the transport
// boundary checks per recipient before delivery.
package hub

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/castellan/castellan/internal/observability"
)

// Message is one published notification.
type Message struct {
	Event   string `json:"event"`
	GuildID string `json:"guild_id,omitempty"` // empty for global scope
	Payload any    `json:"payload,omitempty"`
	// RequiredCapability tags the message for per-recipient permission
	// filtering at the transport boundary. The hub itself ignores it.
	RequiredCapability string `json:"-"`
}

// Conn is one connected real-time client. Send must be safe for
// concurrent use; an error return means the connection is broken.
type Conn interface {
	ID() ulid.ULID
	Send(msg Message) error
}

// SubscriberFunc is an in-process subscription callback. It runs
// synchronously on the publisher's goroutine and must not block.
type SubscriberFunc func(msg Message)

type subscription struct {
	id    uint64
	event string
	fn    SubscriberFunc
}

// Hub tracks room membership and fans published messages out to member
// connections and in-process subscribers.
// It is thread-safe; membership sets are guarded against mutation during
// delivery iteration.
type Hub struct {
	mu      sync.RWMutex
	global  map[ulid.ULID]Conn            // every attached connection
	rooms   map[string]map[ulid.ULID]Conn // guild id -> members
	subs    map[string][]subscription     // scope key -> subscribers
	nextSub uint64
	logger  *slog.Logger
}

const globalScope = "global"

func guildScope(guildID string) string { return "guild:" + guildID }

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		global: make(map[ulid.ULID]Conn),
		rooms:  make(map[string]map[ulid.ULID]Conn),
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Attach registers a connection with the hub and places it in the global
// room. Attaching an already-attached connection is a no-op.
func (h *Hub) Attach(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.global[conn.ID()] = conn
}

// Disconnect removes a connection from the global room and every guild
// room it was a member of.
func (h *Hub) Disconnect(id ulid.ULID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.global, id)
	for guildID, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, guildID)
		}
	}
}

// JoinGuildRoom adds a connection to a guild's room. Joining twice is a
// no-op; membership sets never hold duplicates.
func (h *Hub) JoinGuildRoom(conn Conn, guildID string) {
	if guildID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[guildID]
	if !ok {
		members = make(map[ulid.ULID]Conn)
		h.rooms[guildID] = members
	}
	members[conn.ID()] = conn
}

// LeaveGuildRoom removes a connection from a guild's room. Leaving a room
// not joined is a no-op.
func (h *Hub) LeaveGuildRoom(conn Conn, guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[guildID]
	if !ok {
		return
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(h.rooms, guildID)
	}
}

// Subscribe registers an in-process callback for an event published to a
// guild's room. Empty event matches every event in the room. The returned
// cancel function removes the subscription.
func (h *Hub) Subscribe(guildID, event string, fn SubscriberFunc) func() {
	return h.subscribe(guildScope(guildID), event, fn)
}

// SubscribeGlobal registers an in-process callback for globally published
// events.
func (h *Hub) SubscribeGlobal(event string, fn SubscriberFunc) func() {
	return h.subscribe(globalScope, event, fn)
}

func (h *Hub) subscribe(scope, event string, fn SubscriberFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	id := h.nextSub
	h.subs[scope] = append(h.subs[scope], subscription{id: id, event: event, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[scope]
		for i, s := range subs {
			if s.id == id {
				h.subs[scope] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// PublishOption tags a published message.
type PublishOption func(*Message)

// WithRequiredCapability marks the message for per-recipient permission
// filtering at the transport boundary.
func WithRequiredCapability(capability string) PublishOption {
	return func(m *Message) {
		m.RequiredCapability = capability
	}
}

// PublishGuild delivers to connections currently in the guild's room and
// to matching guild-scoped subscribers.
func (h *Hub) PublishGuild(guildID, event string, payload any, opts ...PublishOption) {
	msg := Message{Event: event, GuildID: guildID, Payload: payload}
	for _, opt := range opts {
		opt(&msg)
	}

	h.mu.RLock()
	conns := snapshot(h.rooms[guildID])
	subs := h.matchingSubs(guildScope(guildID), event)
	h.mu.RUnlock()

	h.deliver("guild", msg, conns, subs)
}

// PublishGlobal delivers to every attached connection and every matching
// global subscriber, regardless of guild membership.
func (h *Hub) PublishGlobal(event string, payload any, opts ...PublishOption) {
	msg := Message{Event: event, Payload: payload}
	for _, opt := range opts {
		opt(&msg)
	}

	h.mu.RLock()
	conns := snapshot(h.global)
	subs := h.matchingSubs(globalScope, event)
	h.mu.RUnlock()

	h.deliver("global", msg, conns, subs)
}

// deliver runs on the publisher's goroutine so messages from a single
// publisher arrive in publish order within a room.
func (h *Hub) deliver(scope string, msg Message, conns []Conn, subs []SubscriberFunc) {
	for _, fn := range subs {
		fn(msg)
	}
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			h.logger.Warn("hub delivery failed",
				"event", msg.Event,
				"guild_id", msg.GuildID,
				"conn_id", conn.ID().String(),
				"error", err)
			observability.RecordHubDelivery(scope, "dropped")
			continue
		}
		observability.RecordHubDelivery(scope, "delivered")
	}
}

// matchingSubs is called with h.mu held.
func (h *Hub) matchingSubs(scope, event string) []SubscriberFunc {
	var out []SubscriberFunc
	for _, s := range h.subs[scope] {
		if s.event == "" || s.event == event {
			out = append(out, s.fn)
		}
	}
	return out
}

func snapshot(members map[ulid.ULID]Conn) []Conn {
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// RoomSize returns the current membership count of a guild room.
func (h *Hub) RoomSize(guildID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[guildID])
}

// Connections returns the number of attached connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.global)
}
