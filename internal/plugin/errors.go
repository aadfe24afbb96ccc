// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin

import (
	"strings"

	"github.com/samber/oops"
)

// Error codes for plugin lifecycle failures.
const (
	CodeInvalidManifest   = "INVALID_MANIFEST"
	CodeDuplicateName     = "DUPLICATE_PLUGIN"
	CodeDependencyCycle   = "DEPENDENCY_CYCLE"
	CodeDependencyMissing = "DEPENDENCY_MISSING"
	CodeDependencyVersion = "DEPENDENCY_VERSION"
	CodePluginLoad        = "PLUGIN_LOAD_FAILED"
	CodeDuplicateCap      = "DUPLICATE_CAPABILITY"
)

// ErrInvalidManifest creates an error for a manifest that failed validation.
func ErrInvalidManifest(name string, cause error) error {
	return oops.Code(CodeInvalidManifest).
		With("plugin", name).
		Wrap(cause)
}

// ErrDuplicateName creates an error for two manifests sharing a name.
func ErrDuplicateName(name string) error {
	return oops.Code(CodeDuplicateName).
		With("plugin", name).
		Errorf("duplicate plugin name: %s", name)
}

// ErrDependencyCycle creates an error naming every plugin in the cycle,
// in traversal order.
func ErrDependencyCycle(cycle []string) error {
	return oops.Code(CodeDependencyCycle).
		With("cycle", cycle).
		Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
}

// ErrDependencyMissing creates an error for a required dependency that is
// not loaded.
func ErrDependencyMissing(plugin, dep string) error {
	return oops.Code(CodeDependencyMissing).
		With("plugin", plugin).
		With("dependency", dep).
		Errorf("required dependency %s is not loaded", dep)
}

// ErrDependencyVersion creates an error for a loaded dependency whose
// version does not satisfy the declared constraint.
func ErrDependencyVersion(plugin, dep, constraint, version string) error {
	return oops.Code(CodeDependencyVersion).
		With("plugin", plugin).
		With("dependency", dep).
		With("constraint", constraint).
		With("version", version).
		Errorf("dependency %s@%s does not satisfy %s", dep, version, constraint)
}

// ErrPluginLoad creates an error for a load hook that failed.
func ErrPluginLoad(plugin string, cause error) error {
	return oops.Code(CodePluginLoad).
		With("plugin", plugin).
		Wrap(cause)
}

// ErrDuplicateCapability creates an error for a second capability published
// under the same name within one boot cycle.
func ErrDuplicateCapability(name string) error {
	return oops.Code(CodeDuplicateCap).
		With("plugin", name).
		Errorf("capability already published for %s", name)
}
