// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// Engine executes a single plugin unit. Implementations own the underlying
// interpreter state and must serialize access to it internally.
type Engine interface {
	// Call invokes an exported function with the given arguments and
	// returns its result. The context carries the call deadline.
	Call(ctx context.Context, fn string, args []any) (any, error)

	// Snapshot captures the plugin's persistent state for restoration
	// after a reload. Engines that carry no state return (nil, nil).
	Snapshot(ctx context.Context) ([]byte, error)

	// Restore applies a previously captured snapshot. A nil snapshot is
	// a no-op.
	Restore(ctx context.Context, snapshot []byte) error

	// Close releases interpreter resources. The engine is unusable
	// afterwards.
	Close() error
}

// CompileRequest carries everything an engine factory needs to compile one
// plugin unit.
type CompileRequest struct {
	// Plugin is the manifest name, used for chunk naming and logging.
	Plugin string

	// Source holds script text when the manifest declares a source entry
	// point. Exactly one of Source and Bytecode is set.
	Source []byte

	// Bytecode holds a precompiled unit when the manifest declares a
	// bytecode entry point.
	Bytecode []byte

	// Granted is the capability set the host granted this plugin. The
	// engine enforces it on every host function call.
	Granted capability.Set

	// Exports lists the functions the manifest declares callable.
	Exports []string
}

// EngineFactory compiles plugin units into engines.
type EngineFactory interface {
	Compile(ctx context.Context, req CompileRequest) (Engine, error)
}
