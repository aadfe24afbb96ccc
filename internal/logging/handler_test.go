// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("castellan", "1.0.0", "json", &buf)

	logger.InfoContext(context.Background(), "test message", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "test message", record["msg"])
	assert.Equal(t, "castellan", record["service"])
	assert.Equal(t, "1.0.0", record["version"])
	assert.Equal(t, "value", record["key"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("castellan", "1.0.0", "text", &buf)

	logger.Info("hello")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "service=castellan")
}

func TestSetup_DefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("castellan", "dev", "", &buf)

	logger.Info("defaulted")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "defaulted", record["msg"])
}

func TestForPlugin_AddsPluginAttr(t *testing.T) {
	var buf bytes.Buffer
	base := Setup("castellan", "dev", "json", &buf)

	ForPlugin(base, "tags").Warn("something odd")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "tags", record["plugin"])
}

func TestForPlugin_NilBaseUsesDefault(t *testing.T) {
	logger := ForPlugin(nil, "ping")
	require.NotNil(t, logger)
}
