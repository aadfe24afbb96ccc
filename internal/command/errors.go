// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command registration and dispatch failures.
const (
	CodeDuplicateRoute = "DUPLICATE_ROUTE"
	CodeInvalidRoute   = "INVALID_ROUTE"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeUnauthorized   = "UNAUTHORIZED_COMMAND"
	CodeGuildOnly      = "GUILD_ONLY"
	CodeHandlerFailed  = "HANDLER_FAILED"
)

// ErrDuplicateRoute creates an error for a path registered twice. This is
// a configuration error, fatal to the registration.
func ErrDuplicateRoute(path, existing, incoming string) error {
	return oops.Code(CodeDuplicateRoute).
		With("path", path).
		With("existing_plugin", existing).
		With("incoming_plugin", incoming).
		Errorf("route %q already registered by %s", path, existing)
}

// ErrInvalidRoute creates an error for a route missing required fields.
func ErrInvalidRoute(reason string) error {
	return oops.Code(CodeInvalidRoute).Errorf("invalid route: %s", reason)
}

// ErrUnauthorized creates an error for an owner-only route invoked by a
// non-owner. The handler never runs.
func ErrUnauthorized(path, caller string) error {
	return oops.Code(CodeUnauthorized).
		With("path", path).
		With("caller", caller).
		Errorf("caller is not an owner")
}

// ErrGuildOnly creates an error for a guild-only route invoked from a
// direct message.
func ErrGuildOnly(path string) error {
	return oops.Code(CodeGuildOnly).
		With("path", path).
		Errorf("command not available in direct messages")
}

// ErrHandlerFailed wraps a handler error caught at the dispatch boundary.
func ErrHandlerFailed(path, plugin string, cause error) error {
	return oops.Code(CodeHandlerFailed).
		With("path", path).
		With("plugin", plugin).
		Wrap(cause)
}

// CallerMessage maps an error to the message shown to the command caller.
// Callers always get a definite terminal response, never silence.
func CallerMessage(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong. Try again."
	}
	switch oopsErr.Code() {
	case CodeUnknownCommand:
		return "Unknown command."
	case CodeUnauthorized:
		return "You don't have permission to use that command."
	case CodeGuildOnly:
		return "That command is only available in a server."
	default:
		return "Something went wrong. Try again."
	}
}
