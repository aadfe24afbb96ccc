// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package command provides the command route table and dispatcher.
package command

import (
	"context"
)

// Handler is the function signature for command handlers.
type Handler func(ctx context.Context, exec *Execution) error

// Route is one registered command path and its owning plugin. A path is
// the command name plus an optional subcommand; each path resolves to at
// most one handler.
type Route struct {
	Command    string
	Subcommand string
	Plugin     string // owning plugin, or "core"
	Handler    Handler
	OwnerOnly  bool // callable only by configured owner identities
	AllowDM    bool // callable outside a guild context
	Help       string
	Usage      string
}

// Path returns the route's lookup key.
func (r Route) Path() string {
	if r.Subcommand == "" {
		return r.Command
	}
	return r.Command + " " + r.Subcommand
}

// Responder delivers the handler's reply back through the transport the
// invocation arrived on.
type Responder interface {
	Reply(ctx context.Context, message string) error
}

// Invocation is one inbound command from the platform boundary.
type Invocation struct {
	Command    string
	Subcommand string
	Args       string
	CallerID   string
	GuildID    string // empty for direct messages
	Responder  Responder
}

// Path returns the invocation's lookup key.
func (i *Invocation) Path() string {
	if i.Subcommand == "" {
		return i.Command
	}
	return i.Command + " " + i.Subcommand
}

// DirectMessage reports whether the invocation originated outside a guild.
func (i *Invocation) DirectMessage() bool { return i.GuildID == "" }

// CapabilityLookup resolves a plugin's capability object through the
// registry. The false return means the plugin is not loaded; handlers must
// handle that case rather than assume presence.
type CapabilityLookup func(name string) (any, bool)

// Execution provides per-invocation context for a handler.
type Execution struct {
	Invocation *Invocation
	Capability CapabilityLookup
}

// Reply sends a message to the caller through the invocation's responder.
func (e *Execution) Reply(ctx context.Context, message string) error {
	if e.Invocation == nil || e.Invocation.Responder == nil {
		return nil
	}
	//nolint:wrapcheck // transport errors pass through to the dispatcher boundary
	return e.Invocation.Responder.Reply(ctx, message)
}

// Status classifies a dispatch outcome.
type Status uint8

// Dispatch outcomes. Callers always get exactly one of these; the
// dispatcher never propagates a handler error to its caller.
const (
	StatusOK Status = iota
	StatusNotRecognized
	StatusUnauthorized
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotRecognized:
		return "not_recognized"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the dispatcher's terminal answer for one invocation.
type Outcome struct {
	Status  Status
	Message string // caller-facing message for non-OK outcomes
}
