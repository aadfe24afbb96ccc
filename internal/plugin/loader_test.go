// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Castellan Contributors

package plugin_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/plugin"
	"github.com/castellan/castellan/pkg/errutil"
)

// recorder tracks hook invocation order across a load/unload cycle.
type recorder struct {
	loads   []string
	unloads []string
}

func (r *recorder) manifest(name string, deps ...plugin.Dependency) *plugin.Manifest {
	return &plugin.Manifest{
		Name:         name,
		Version:      "1.0.0",
		Dependencies: deps,
		Load: func(_ context.Context, _ *plugin.Context) (any, error) {
			r.loads = append(r.loads, name)
			return name + "-cap", nil
		},
		Unload: func(_ context.Context, _ *slog.Logger) error {
			r.unloads = append(r.unloads, name)
			return nil
		},
	}
}

func failureCodes(failures []plugin.LoadFailure) map[string]string {
	out := make(map[string]string, len(failures))
	for _, f := range failures {
		out[f.Plugin] = errutil.Code(f.Err)
	}
	return out
}

func TestLoader_LoadsInDependencyOrder(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("c", plugin.Dependency{Name: "b"}),
		rec.manifest("b", plugin.Dependency{Name: "a"}),
		rec.manifest("a"),
	})

	require.Empty(t, failures)
	assert.Equal(t, []string{"a", "b", "c"}, rec.loads)
}

func TestLoader_UnloadReversesLoadOrder(t *testing.T) {
	rec := &recorder{}
	registry := plugin.NewRegistry()
	loader := plugin.NewLoader(registry)

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("a"),
		rec.manifest("b", plugin.Dependency{Name: "a"}),
		rec.manifest("c", plugin.Dependency{Name: "b"}),
	})
	require.Empty(t, failures)

	loader.Unload(context.Background())

	assert.Equal(t, []string{"c", "b", "a"}, rec.unloads)
	assert.Empty(t, registry.Names())
	assert.Empty(t, loader.Loaded())
}

func TestLoader_DependencyCapabilityProvided(t *testing.T) {
	loader := plugin.NewLoader(plugin.NewRegistry())

	var got any
	var present bool
	manifests := []*plugin.Manifest{
		{
			Name:    "base",
			Version: "2.1.0",
			Load: func(_ context.Context, _ *plugin.Context) (any, error) {
				return "base-cap", nil
			},
		},
		{
			Name:         "dependent",
			Version:      "1.0.0",
			Dependencies: []plugin.Dependency{{Name: "base", Constraint: ">= 2.0.0"}},
			Load: func(_ context.Context, pctx *plugin.Context) (any, error) {
				got, present = pctx.Dependency("base")
				return "dependent-cap", nil
			},
		},
	}

	failures := loader.Load(context.Background(), manifests)
	require.Empty(t, failures)
	require.True(t, present)
	assert.Equal(t, "base-cap", got)
}

func TestLoader_CycleParticipantsExcluded(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("a", plugin.Dependency{Name: "b"}),
		rec.manifest("b", plugin.Dependency{Name: "a"}),
		rec.manifest("standalone"),
	})

	codes := failureCodes(failures)
	assert.Equal(t, plugin.CodeDependencyCycle, codes["a"])
	assert.Equal(t, plugin.CodeDependencyCycle, codes["b"])
	assert.Equal(t, []string{"standalone"}, rec.loads)
}

func TestLoader_FailedPluginIsolated(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	broken := &plugin.Manifest{
		Name:    "broken",
		Version: "1.0.0",
		Load: func(_ context.Context, _ *plugin.Context) (any, error) {
			return nil, assert.AnError
		},
	}

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		broken,
		rec.manifest("healthy"),
		// Requires broken, which never published: fails as missing.
		rec.manifest("dependent", plugin.Dependency{Name: "broken"}),
	})

	codes := failureCodes(failures)
	assert.Equal(t, plugin.CodePluginLoad, codes["broken"])
	assert.Equal(t, plugin.CodeDependencyMissing, codes["dependent"])
	assert.Equal(t, []string{"healthy"}, rec.loads)
}

func TestLoader_OptionalDependencyOmitted(t *testing.T) {
	loader := plugin.NewLoader(plugin.NewRegistry())

	var present bool
	manifests := []*plugin.Manifest{
		{
			Name:         "flexible",
			Version:      "1.0.0",
			Dependencies: []plugin.Dependency{{Name: "absent", Optional: true}},
			Load: func(_ context.Context, pctx *plugin.Context) (any, error) {
				_, present = pctx.Dependency("absent")
				return "cap", nil
			},
		},
	}

	failures := loader.Load(context.Background(), manifests)
	require.Empty(t, failures)
	assert.False(t, present)
}

func TestLoader_VersionConstraintEnforced(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("base"), // 1.0.0
		rec.manifest("strict", plugin.Dependency{Name: "base", Constraint: ">= 2.0.0"}),
	})

	require.Len(t, failures, 1)
	assert.Equal(t, "strict", failures[0].Plugin)
	errutil.AssertErrorCode(t, failures[0].Err, plugin.CodeDependencyVersion)
	errutil.AssertErrorContext(t, failures[0].Err, "constraint", ">= 2.0.0")
	errutil.AssertErrorContext(t, failures[0].Err, "version", "1.0.0")
}

func TestLoader_DuplicateNameRejected(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("twin"),
		rec.manifest("twin"),
	})

	require.Len(t, failures, 1)
	errutil.AssertErrorCode(t, failures[0].Err, plugin.CodeDuplicateName)
	// First declaration wins and loads.
	assert.Equal(t, []string{"twin"}, rec.loads)
}

func TestLoader_InvalidManifestRejected(t *testing.T) {
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		{Name: "NoGood", Version: "1.0.0", Load: noopLoad},
	})

	require.Len(t, failures, 1)
	errutil.AssertErrorCode(t, failures[0].Err, plugin.CodeInvalidManifest)
}

func TestLoader_PanickingHookIsFailure(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		{
			Name:    "bomb",
			Version: "1.0.0",
			Load: func(_ context.Context, _ *plugin.Context) (any, error) {
				panic("boom")
			},
		},
		rec.manifest("survivor"),
	})

	codes := failureCodes(failures)
	assert.Equal(t, plugin.CodePluginLoad, codes["bomb"])
	assert.Equal(t, []string{"survivor"}, rec.loads)
}

func TestLoader_SlowHookTimesOut(t *testing.T) {
	loader := plugin.NewLoader(plugin.NewRegistry(),
		plugin.WithLoadTimeout(20*time.Millisecond))

	release := make(chan struct{})
	defer close(release)

	failures := loader.Load(context.Background(), []*plugin.Manifest{
		{
			Name:    "sleeper",
			Version: "1.0.0",
			Load: func(_ context.Context, _ *plugin.Context) (any, error) {
				<-release
				return "late", nil
			},
		},
	})

	require.Len(t, failures, 1)
	assert.Equal(t, "sleeper", failures[0].Plugin)
	errutil.AssertErrorCode(t, failures[0].Err, plugin.CodePluginLoad)
}

func TestLoader_LoadedReturnsLoadOrder(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	loader.Load(context.Background(), []*plugin.Manifest{
		rec.manifest("b", plugin.Dependency{Name: "a"}),
		rec.manifest("a"),
	})

	loaded := loader.Loaded()
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].Name)
	assert.Equal(t, "b", loaded[1].Name)
}

func TestLoader_BootIDChangesPerCycle(t *testing.T) {
	rec := &recorder{}
	loader := plugin.NewLoader(plugin.NewRegistry())

	loader.Load(context.Background(), []*plugin.Manifest{rec.manifest("a")})
	first := loader.BootID()
	loader.Unload(context.Background())

	loader.Load(context.Background(), []*plugin.Manifest{rec.manifest("a")})
	assert.NotEqual(t, first, loader.BootID())
}
