// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/castellan/castellan/internal/observability"
	"github.com/castellan/castellan/pkg/errutil"
)

var tracer = otel.Tracer("castellan/command")

// Dispatcher routes inbound invocations to the owning handler under
// access-control checks. Handler failures are caught here and surfaced as
// a generic failure outcome; they never propagate to the caller.
type Dispatcher struct {
	table  *Table
	owners map[string]struct{}
	caps   CapabilityLookup
	logger *slog.Logger
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the dispatcher's logger.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the given route table. owners is
// the externally-configured set of owner identities consumed by the
// owner-only gate; caps resolves capability objects for handlers.
func NewDispatcher(table *Table, owners []string, caps CapabilityLookup, opts ...DispatcherOption) (*Dispatcher, error) {
	if table == nil {
		return nil, ErrInvalidRoute("route table is required")
	}
	if caps == nil {
		return nil, ErrInvalidRoute("capability lookup is required")
	}

	ownerSet := make(map[string]struct{}, len(owners))
	for _, id := range owners {
		ownerSet[id] = struct{}{}
	}

	d := &Dispatcher{
		table:  table,
		owners: ownerSet,
		caps:   caps,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch resolves and executes one invocation, returning a terminal
// outcome: ok, not recognized, unauthorized, or generic failure.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) Outcome {
	path := inv.Path()

	ctx, span := tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(
			attribute.String("command.path", path),
			attribute.String("command.caller", inv.CallerID),
			attribute.Bool("command.direct_message", inv.DirectMessage()),
		),
	)
	defer span.End()

	route, ok := d.table.Get(path)
	if !ok {
		observability.RecordCommandDispatch(StatusNotRecognized.String())
		return Outcome{
			Status:  StatusNotRecognized,
			Message: CallerMessage(oops.Code(CodeUnknownCommand).Errorf("unknown command: %s", path)),
		}
	}

	span.SetAttributes(attribute.String("command.plugin", route.Plugin))

	if route.OwnerOnly {
		if _, isOwner := d.owners[inv.CallerID]; !isOwner {
			err := ErrUnauthorized(path, inv.CallerID)
			span.SetStatus(codes.Error, "unauthorized")
			d.logger.Warn("unauthorized command rejected",
				"path", path,
				"caller", inv.CallerID)
			observability.RecordCommandDispatch(StatusUnauthorized.String())
			return Outcome{Status: StatusUnauthorized, Message: CallerMessage(err)}
		}
	}

	if !route.AllowDM && inv.DirectMessage() {
		err := ErrGuildOnly(path)
		span.SetStatus(codes.Error, "unauthorized")
		d.logger.Warn("direct-message command rejected",
			"path", path,
			"caller", inv.CallerID)
		observability.RecordCommandDispatch(StatusUnauthorized.String())
		return Outcome{Status: StatusUnauthorized, Message: CallerMessage(err)}
	}

	exec := &Execution{
		Invocation: inv,
		Capability: d.caps,
	}

	if err := d.invoke(ctx, route, exec); err != nil {
		wrapped := ErrHandlerFailed(path, route.Plugin, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, "handler failed")
		errutil.LogError(d.logger, "command handler failed", wrapped)
		observability.RecordCommandDispatch(StatusFailed.String())
		return Outcome{Status: StatusFailed, Message: CallerMessage(wrapped)}
	}

	observability.RecordCommandDispatch(StatusOK.String())
	return Outcome{Status: StatusOK}
}

// invoke runs the handler, converting panics to errors so a broken plugin
// cannot take down the dispatch boundary.
func (d *Dispatcher) invoke(ctx context.Context, route Route, exec *Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.With("panic", fmt.Sprint(r)).Errorf("handler panicked")
		}
	}()
	return route.Handler(ctx, exec)
}
