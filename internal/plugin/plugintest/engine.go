// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package plugintest provides scripted engine fakes for runtime tests.
package plugintest

import (
	"context"
	"sync"

	"github.com/wardenhost/warden/internal/plugin"
)

// Engine is a scripted plugin.Engine. Zero value is usable: every call
// succeeds and returns nil.
type Engine struct {
	mu sync.Mutex

	// CallFunc, when set, handles Call invocations.
	CallFunc func(ctx context.Context, fn string, args []any) (any, error)

	// SnapshotData and SnapshotErr script Snapshot.
	SnapshotData []byte
	SnapshotErr  error

	// RestoreErr scripts Restore.
	RestoreErr error

	calls    []string
	restored [][]byte
	closed   bool
}

var _ plugin.Engine = (*Engine)(nil)

func (e *Engine) Call(ctx context.Context, fn string, args []any) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, fn)
	handler := e.CallFunc
	e.mu.Unlock()

	if handler != nil {
		return handler(ctx, fn, args)
	}
	return nil, nil
}

func (e *Engine) Snapshot(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.SnapshotData, e.SnapshotErr
}

func (e *Engine) Restore(ctx context.Context, snapshot []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored = append(e.restored, snapshot)
	return e.RestoreErr
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns function names invoked so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Restored returns snapshots passed to Restore, in order.
func (e *Engine) Restored() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.restored))
	copy(out, e.restored)
	return out
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Factory is a scripted plugin.EngineFactory. Zero value compiles every
// request into a fresh blank Engine.
type Factory struct {
	mu sync.Mutex

	// CompileFunc, when set, handles Compile invocations.
	CompileFunc func(ctx context.Context, req plugin.CompileRequest) (plugin.Engine, error)

	compiled []plugin.CompileRequest
	engines  []*Engine
}

var _ plugin.EngineFactory = (*Factory)(nil)

func (f *Factory) Compile(ctx context.Context, req plugin.CompileRequest) (plugin.Engine, error) {
	f.mu.Lock()
	f.compiled = append(f.compiled, req)
	handler := f.CompileFunc
	f.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}

	e := &Engine{}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

// Compiled returns the compile requests seen so far.
func (f *Factory) Compiled() []plugin.CompileRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]plugin.CompileRequest, len(f.compiled))
	copy(out, f.compiled)
	return out
}

// Engines returns the blank engines the zero-value factory produced.
func (f *Factory) Engines() []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.engines))
	copy(out, f.engines)
	return out
}
