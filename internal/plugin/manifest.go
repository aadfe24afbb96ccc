// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package plugin provides plugin manifests, dependency-ordered loading,
// and the capability registry.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/castellan/castellan/internal/command"
	"github.com/castellan/castellan/internal/event"
)

// LoadHook initializes a plugin and returns its capability object.
// The context carries the bounded load timeout; hooks that block past it
// are recorded as load failures.
type LoadHook func(ctx context.Context, pctx *Context) (any, error)

// UnloadHook tears a plugin down. Failures are logged, never propagated.
type UnloadHook func(ctx context.Context, logger *slog.Logger) error

// Dependency names another plugin this one needs at load time.
type Dependency struct {
	Name string
	// Constraint is an optional semver range (e.g. ">= 1.2"). A loaded
	// dependency outside the range is treated as missing.
	Constraint string
	// Optional dependencies are omitted from the context when unavailable
	// instead of failing the dependent.
	Optional bool
}

// Manifest declares a plugin: identity, dependencies, and the command,
// event, and lifecycle contributions it makes to the host. Immutable once
// handed to the loader for a boot cycle.
type Manifest struct {
	Name         string
	Version      string
	Dependencies []Dependency
	Commands     []command.Route
	Events       []event.Registration
	Load         LoadHook
	Unload       UnloadHook
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens. Cannot end with a
// hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.Load == nil {
		return fmt.Errorf("load hook is required")
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.Name == "" {
			return fmt.Errorf("dependency name is required")
		}
		if dep.Name == m.Name {
			return fmt.Errorf("plugin cannot depend on itself")
		}
		if seen[dep.Name] {
			return fmt.Errorf("dependency %s declared twice", dep.Name)
		}
		seen[dep.Name] = true
		if dep.Constraint != "" {
			if _, err := semver.NewConstraint(dep.Constraint); err != nil {
				return fmt.Errorf("dependency %s has invalid constraint %q: %w", dep.Name, dep.Constraint, err)
			}
		}
	}

	return nil
}

// version returns the parsed manifest version. Callers run Validate first.
func (m *Manifest) version() *semver.Version {
	v, _ := semver.NewVersion(m.Version)
	return v
}

// semverConstraint parses a dependency constraint. Validate has already
// rejected malformed expressions by the time the loader calls this.
func semverConstraint(expr string) (*semver.Constraints, error) {
	return semver.NewConstraint(expr)
}
