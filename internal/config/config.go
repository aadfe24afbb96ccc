// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

// Package config loads host configuration from a YAML file with flag
// overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// CodeConfigInvalid tags configuration loading/validation failures.
const CodeConfigInvalid = "CONFIG_INVALID"

// Config holds host configuration. Owner identities are the fixed,
// externally-configured set consumed by the command dispatcher's
// owner-only gate.
type Config struct {
	ListenAddr  string   `koanf:"listen_addr"`
	MetricsAddr string   `koanf:"metrics_addr"`
	LogFormat   string   `koanf:"log_format"`
	Owners      []string `koanf:"owners"`

	// Durations are strings ("30s", "10m") so they read naturally in YAML.
	PluginLoadTimeout    string `koanf:"plugin_load_timeout"`
	MigrationStepTimeout string `koanf:"migration_step_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:           "127.0.0.1:8420",
		MetricsAddr:          "127.0.0.1:9420",
		LogFormat:            "json",
		PluginLoadTimeout:    "30s",
		MigrationStepTimeout: "10m",
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// (if path is non-empty), then flag overrides (if flags is non-nil).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code(CodeConfigInvalid).With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		// Flags are spelled listen-addr; config keys are listen_addr.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			key = strings.ReplaceAll(key, "-", "_")
			if key == "owners" {
				if value == "" {
					return key, []string{}
				}
				return key, strings.Split(value, ",")
			}
			return key, value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code(CodeConfigInvalid).Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeConfigInvalid).Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code(CodeConfigInvalid).Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code(CodeConfigInvalid).Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := parseDuration("plugin_load_timeout", c.PluginLoadTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("migration_step_timeout", c.MigrationStepTimeout); err != nil {
		return err
	}
	return nil
}

// LoadTimeout returns the parsed plugin load-hook timeout.
func (c *Config) LoadTimeout() time.Duration {
	d, _ := parseDuration("plugin_load_timeout", c.PluginLoadTimeout)
	return d
}

// StepTimeout returns the parsed migration step timeout.
func (c *Config) StepTimeout() time.Duration {
	d, _ := parseDuration("migration_step_timeout", c.MigrationStepTimeout)
	return d
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, oops.Code(CodeConfigInvalid).
			With("key", key).
			Wrapf(err, "%s is not a valid duration", key)
	}
	if d < 0 {
		return 0, oops.Code(CodeConfigInvalid).Errorf("%s must not be negative", key)
	}
	return d, nil
}

// String renders the effective configuration for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s metrics=%s owners=%d log=%s",
		c.ListenAddr, c.MetricsAddr, len(c.Owners), c.LogFormat)
}
