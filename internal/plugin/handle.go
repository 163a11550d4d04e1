// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// Handle is one live plugin instance: a compiled engine bound to a manifest
// and a granted capability set, carrying the lifecycle state machine.
// Handles are immutable in identity; a reload produces a new handle that
// replaces the old one atomically in the registry.
type Handle struct {
	name     string
	instance ulid.ULID
	manifest *Manifest
	granted  capability.Set
	engine   Engine

	// dir is the plugin's directory on disk, kept so a reload can re-read
	// the manifest and entry point. Empty for in-memory plugins.
	dir string

	// version counts reloads: 1 for the initial load, incremented by the
	// registry when a reload swaps this handle in.
	version uint64

	mu    sync.RWMutex
	state State

	hooks *transitionHooks
}

func newHandle(name string, m *Manifest, granted capability.Set, engine Engine, dir string, version uint64, hooks *transitionHooks) *Handle {
	return &Handle{
		name:     name,
		instance: ulid.Make(),
		manifest: m,
		granted:  granted,
		engine:   engine,
		dir:      dir,
		version:  version,
		state:    StateCreated,
		hooks:    hooks,
	}
}

// Name returns the plugin's manifest name.
func (h *Handle) Name() string { return h.name }

// Instance returns the unique identifier of this handle generation.
func (h *Handle) Instance() ulid.ULID { return h.instance }

// Manifest returns the manifest this handle was loaded from.
func (h *Handle) Manifest() *Manifest { return h.manifest }

// Granted returns the capability set the host granted at registration.
// Reloads never escalate beyond this set.
func (h *Handle) Granted() capability.Set { return h.granted }

// Dir returns the plugin's on-disk directory, or "" for in-memory plugins.
func (h *Handle) Dir() string { return h.dir }

// Version returns the reload generation, starting at 1.
func (h *Handle) Version() uint64 { return h.version }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// transition moves the handle to a new state after validating the edge,
// then fires hooks outside the lock.
func (h *Handle) transition(to State, op string) error {
	h.mu.Lock()
	from := h.state
	if !canTransition(from, to) {
		h.mu.Unlock()
		return &InvalidTransitionError{From: from, Attempted: op}
	}
	h.state = to
	h.mu.Unlock()

	metricTransitions.WithLabelValues(h.name, to.String()).Inc()
	slog.Debug("plugin state changed",
		"plugin", h.name,
		"from", from.String(),
		"to", to.String(),
		"version", h.version)

	if h.hooks != nil {
		h.hooks.fire(Transition{
			Plugin:  h.name,
			From:    from,
			To:      to,
			Version: h.version,
			At:      time.Now(),
		})
	}
	return nil
}

// fail forces the handle into Failed from any state.
func (h *Handle) fail(cause error) {
	_ = h.transition(StateFailed, "fail")
	slog.Error("plugin failed", "plugin", h.name, "error", cause)
}

// Init moves Created to Initialized. No plugin code runs here; compilation
// already happened in the engine factory.
func (h *Handle) Init(ctx context.Context) error {
	return h.transition(StateInitialized, "init")
}

// Start moves Initialized to Running, invoking the plugin's init export if
// the manifest declares one. An init failure moves the handle to Failed.
func (h *Handle) Start(ctx context.Context) error {
	if err := h.transition(StateRunning, "start"); err != nil {
		return err
	}
	if h.manifest.Exported("init") {
		if _, err := h.engine.Call(ctx, "init", nil); err != nil {
			err = oops.In("plugin").With("plugin", h.name).
				Code(CodeEngineRuntime).Hint("init export failed").Wrap(err)
			h.fail(err)
			return err
		}
	}
	return nil
}

// Stop moves Running to Stopped, invoking the plugin's stop export if
// declared. A stop failure is logged but the handle still reaches Stopped;
// the plugin is no longer callable either way. Outside Running the
// transition is rejected before any plugin code runs.
func (h *Handle) Stop(ctx context.Context) error {
	if s := h.State(); s != StateRunning {
		return &InvalidTransitionError{From: s, Attempted: "stop"}
	}
	if h.manifest.Exported("stop") {
		if _, err := h.engine.Call(ctx, "stop", nil); err != nil {
			slog.Warn("stop export failed", "plugin", h.name, "error", err)
		}
	}
	return h.transition(StateStopped, "stop")
}

// Cleanup invokes the plugin's cleanup export if declared and closes the
// engine. It is terminal: the handle is unusable afterwards. Cleanup is
// best effort and never returns lifecycle errors.
func (h *Handle) Cleanup(ctx context.Context) {
	if h.manifest.Exported("cleanup") && h.State() != StateFailed {
		if _, err := h.engine.Call(ctx, "cleanup", nil); err != nil {
			slog.Warn("cleanup export failed", "plugin", h.name, "error", err)
		}
	}
	if err := h.engine.Close(); err != nil {
		slog.Warn("engine close failed", "plugin", h.name, "error", err)
	}
}

// Call invokes an exported function. The plugin must be Running and the
// function must appear in the manifest's export list. Call failures are
// returned to the caller and do not change lifecycle state.
func (h *Handle) Call(ctx context.Context, fn string, args []any) (any, error) {
	if s := h.State(); s != StateRunning {
		return nil, oops.In("plugin").With("plugin", h.name).With("state", s.String()).
			Wrap(ErrPluginNotRunning)
	}
	if !h.manifest.Exported(fn) {
		return nil, oops.In("plugin").With("plugin", h.name).With("function", fn).
			Wrap(ErrFunctionNotExported)
	}

	start := time.Now()
	result, err := h.engine.Call(ctx, fn, args)
	metricCallDuration.WithLabelValues(h.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metricCalls.WithLabelValues(h.name, fn, "error").Inc()
		return nil, oops.In("plugin").With("plugin", h.name).With("function", fn).
			Code(CodeEngineRuntime).Wrap(err)
	}
	metricCalls.WithLabelValues(h.name, fn, "ok").Inc()
	return result, nil
}

// Snapshot captures the engine's persistent state for transfer across a
// reload. Best effort: callers treat errors as "no snapshot".
func (h *Handle) Snapshot(ctx context.Context) ([]byte, error) {
	return h.engine.Snapshot(ctx)
}

// Restore applies a snapshot captured from a previous generation.
func (h *Handle) Restore(ctx context.Context, snapshot []byte) error {
	if len(snapshot) == 0 {
		return nil
	}
	return h.engine.Restore(ctx, snapshot)
}
