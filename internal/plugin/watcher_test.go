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
)

func waitEvent(t *testing.T, events <-chan plugin.ChangeEvent, match func(plugin.ChangeEvent) bool) plugin.ChangeEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
}

func TestWatcher_AttributesChangesToPlugin(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "main.lua")
	require.NoError(t, os.WriteFile(path, []byte("-- v1"), 0o644))

	w, err := plugin.NewWatcher(plugin.WatcherConfig{Root: root, Patterns: []string{"*.lua"}})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("-- v2"), 0o644))

	ev := waitEvent(t, w.Events(), func(ev plugin.ChangeEvent) bool {
		return ev.Plugin == "demo"
	})
	assert.Equal(t, path, ev.Path)
	assert.False(t, ev.At.IsZero())
}

func TestWatcher_FiltersByPattern(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	w, err := plugin.NewWatcher(plugin.WatcherConfig{Root: root, Patterns: []string{"*.lua"}})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte("-- v1"), 0o644))

	ev := waitEvent(t, w.Events(), func(ev plugin.ChangeEvent) bool {
		return ev.Plugin == "demo"
	})
	assert.Equal(t, "main.lua", filepath.Base(ev.Path), "non-matching files are filtered out")
}

func TestWatcher_PicksUpNewPluginDirectory(t *testing.T) {
	root := t.TempDir()

	w, err := plugin.NewWatcher(plugin.WatcherConfig{Root: root, Patterns: []string{"*.lua"}})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	dir := filepath.Join(root, "late")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Give the watcher a beat to add the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte("-- v1"), 0o644))

	ev := waitEvent(t, w.Events(), func(ev plugin.ChangeEvent) bool {
		return ev.Plugin == "late"
	})
	assert.Equal(t, "late", ev.Plugin)
}

func TestWatcher_InvalidPattern(t *testing.T) {
	_, err := plugin.NewWatcher(plugin.WatcherConfig{Root: t.TempDir(), Patterns: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestWatcher_RequiresRoot(t *testing.T) {
	_, err := plugin.NewWatcher(plugin.WatcherConfig{})
	assert.Error(t, err)
}

func TestWatcher_CloseClosesEvents(t *testing.T) {
	w, err := plugin.NewWatcher(plugin.WatcherConfig{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
}
