// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin_test

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/pkg/errutil"
)

func TestRegistry_PublishAndLookup(t *testing.T) {
	r := plugin.NewRegistry()
	v := semver.MustParse("1.0.0")

	require.NoError(t, r.Publish("ping", v, "ping-cap"))

	capability, ok := r.Capability("ping")
	require.True(t, ok)
	assert.Equal(t, "ping-cap", capability)

	got, ok := r.Version("ping")
	require.True(t, ok)
	assert.True(t, v.Equal(got))

	assert.True(t, r.Loaded("ping"))
	assert.False(t, r.Loaded("tags"))
}

func TestRegistry_DuplicatePublishRejected(t *testing.T) {
	r := plugin.NewRegistry()
	v := semver.MustParse("1.0.0")

	require.NoError(t, r.Publish("ping", v, "first"))
	err := r.Publish("ping", v, "second")
	errutil.AssertErrorCode(t, err, plugin.CodeDuplicateCap)

	// The first capability must be untouched.
	capability, ok := r.Capability("ping")
	require.True(t, ok)
	assert.Equal(t, "first", capability)
}

func TestRegistry_RemoveAndClear(t *testing.T) {
	r := plugin.NewRegistry()
	v := semver.MustParse("1.0.0")
	require.NoError(t, r.Publish("ping", v, "a"))
	require.NoError(t, r.Publish("tags", v, "b"))

	r.Remove("ping")
	assert.False(t, r.Loaded("ping"))
	assert.True(t, r.Loaded("tags"))

	// Removed names can publish again within the same cycle.
	require.NoError(t, r.Publish("ping", v, "a2"))

	r.Clear()
	assert.Empty(t, r.Names())
}

func TestRegistry_NamesIsACopy(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Publish("ping", semver.MustParse("1.0.0"), "a"))

	names := r.Names()
	require.Equal(t, []string{"ping"}, names)
	names[0] = "mutated"

	assert.Equal(t, []string{"ping"}, r.Names())
}
