// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhost/warden/internal/plugin"
	"github.com/wardenhost/warden/internal/plugin/capability"
	"github.com/wardenhost/warden/internal/plugin/lua"
)

const counterSourceV1 = `
function bump()
	state.n = (state.n or 0) + 1
	return state.n
end

function label()
	return "v1"
end
`

const counterSourceV2 = `
function bump()
	state.n = (state.n or 0) + 1
	return state.n
end

function label()
	return "v2"
end
`

func writeCounterPlugin(t *testing.T, root, source string) string {
	t.Helper()
	dir := filepath.Join(root, "counter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `name: counter
version: 1.0.0
api-version:
  major: 1
  minor: 0
source: main.lua
exports:
  - bump
  - label
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(source), 0o644))
	return dir
}

func TestRuntime_LoadDirAndCall(t *testing.T) {
	root := t.TempDir()
	writeCounterPlugin(t, root, counterSourceV1)

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir: root,
		HostAPI:    plugin.CurrentAPIVersion,
	}, lua.NewFactory())
	ctx := context.Background()
	defer func() { _ = rt.Shutdown(ctx) }()

	require.NoError(t, rt.LoadDir(ctx))
	assert.Equal(t, []string{"counter"}, rt.Names())

	out, err := rt.Call(ctx, "counter", "bump", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out)

	out, err = rt.Call(ctx, "counter", "bump", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), out)

	_, err = rt.Call(ctx, "missing", "bump", nil)
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestRuntime_HotReloadPreservesState(t *testing.T) {
	root := t.TempDir()
	dir := writeCounterPlugin(t, root, counterSourceV1)

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir: root,
		HostAPI:    plugin.CurrentAPIVersion,
		Watch:      true,
		Controller: plugin.ControllerConfig{
			Debounce: plugin.NewFixedDelay(50 * time.Millisecond),
		},
	}, lua.NewFactory())
	ctx := context.Background()
	defer func() { _ = rt.Shutdown(ctx) }()

	require.NoError(t, rt.LoadDir(ctx))

	reloaded := make(chan plugin.ReloadResult, 4)
	rt.OnReload(func(r plugin.ReloadResult) { reloaded <- r })
	require.NoError(t, rt.Start(ctx))

	for i := 0; i < 3; i++ {
		_, err := rt.Call(ctx, "counter", "bump", nil)
		require.NoError(t, err)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(counterSourceV2), 0o644))

	select {
	case r := <-reloaded:
		require.NoError(t, r.Err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for hot reload")
	}

	out, err := rt.Call(ctx, "counter", "label", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out, "new code is live")

	out, err = rt.Call(ctx, "counter", "bump", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(4), out, "counter state survived the reload")

	h, err := rt.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Version())
}

func TestRuntime_ManualReload(t *testing.T) {
	root := t.TempDir()
	dir := writeCounterPlugin(t, root, counterSourceV1)

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir: root,
		HostAPI:    plugin.CurrentAPIVersion,
	}, lua.NewFactory())
	ctx := context.Background()
	defer func() { _ = rt.Shutdown(ctx) }()

	require.NoError(t, rt.LoadDir(ctx))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(counterSourceV2), 0o644))

	h, err := rt.Reload(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Version())

	out, err := rt.Call(ctx, "counter", "label", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out)
}

func TestRuntime_UnregisterCancelsReload(t *testing.T) {
	root := t.TempDir()
	writeCounterPlugin(t, root, counterSourceV1)

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir: root,
		HostAPI:    plugin.CurrentAPIVersion,
	}, lua.NewFactory())
	ctx := context.Background()
	defer func() { _ = rt.Shutdown(ctx) }()

	require.NoError(t, rt.LoadDir(ctx))
	require.NoError(t, rt.Unregister(ctx, "counter"))

	_, err := rt.Get("counter")
	assert.ErrorIs(t, err, plugin.ErrNotFound)
}

func TestRuntime_DefaultGrant(t *testing.T) {
	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		HostAPI:        plugin.CurrentAPIVersion,
		DefaultProfile: "observability",
	}, lua.NewFactory())

	grant := rt.DefaultGrant()
	assert.True(t, grant.Has(capability.NetworkRequest))
	assert.False(t, grant.Has(capability.ProcessExec))

	rt = plugin.NewRuntime(plugin.RuntimeConfig{
		HostAPI:        plugin.CurrentAPIVersion,
		DefaultProfile: "no-such-profile",
	}, lua.NewFactory())
	assert.True(t, rt.DefaultGrant().Equal(capability.SafeDefaults()),
		"unknown profile falls back to safe defaults")
}

func TestRuntime_TransitionHooks(t *testing.T) {
	root := t.TempDir()
	writeCounterPlugin(t, root, counterSourceV1)

	rt := plugin.NewRuntime(plugin.RuntimeConfig{
		PluginsDir: root,
		HostAPI:    plugin.CurrentAPIVersion,
	}, lua.NewFactory())
	ctx := context.Background()
	defer func() { _ = rt.Shutdown(ctx) }()

	var transitions []plugin.Transition
	rt.OnTransition(func(tr plugin.Transition) {
		transitions = append(transitions, tr)
	})

	require.NoError(t, rt.LoadDir(ctx))

	require.Len(t, transitions, 2)
	assert.Equal(t, plugin.StateInitialized, transitions[0].To)
	assert.Equal(t, plugin.StateRunning, transitions[1].To)
}
