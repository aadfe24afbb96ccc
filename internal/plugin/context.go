// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin

import (
	"log/slog"
	"os"

	"github.com/samber/oops"
)

// EnvFunc resolves an environment requirement by key.
type EnvFunc func(key string) (string, bool)

// Context is handed to a plugin's load hook. It holds the capability
// objects of the plugin's already-loaded dependencies, a scoped logger,
// and environment accessors. Owned by the plugin only for the duration of
// the load hook; the loader discards it afterwards.
type Context struct {
	plugin string
	deps   map[string]any
	logger *slog.Logger
	env    EnvFunc
}

// Plugin returns the name of the plugin being loaded.
func (c *Context) Plugin() string { return c.plugin }

// Dependency returns the capability object of a declared dependency.
// Optional dependencies that failed to load are absent; callers must
// handle the false case explicitly.
func (c *Context) Dependency(name string) (any, bool) {
	cap, ok := c.deps[name]
	return cap, ok
}

// Logger returns the plugin-scoped logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Env returns the value of an environment requirement.
func (c *Context) Env(key string) (string, bool) {
	if c.env != nil {
		return c.env(key)
	}
	return os.LookupEnv(key)
}

// RequireEnv returns the value of an environment requirement, or an error
// suitable for failing the load hook.
func (c *Context) RequireEnv(key string) (string, error) {
	v, ok := c.Env(key)
	if !ok || v == "" {
		return "", oops.Code(CodePluginLoad).
			With("plugin", c.plugin).
			With("env", key).
			Errorf("required environment value %s is not set", key)
	}
	return v, nil
}
