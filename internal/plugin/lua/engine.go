// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package lua

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/wardenhost/warden/internal/plugin"
	"github.com/wardenhost/warden/internal/plugin/capability"
)

// stateGlobal is the Lua global carried across reloads via snapshots.
// Plugins keep anything they want to survive a reload in this table.
const stateGlobal = "state"

// Factory compiles Lua plugin units into engines.
type Factory struct {
	gate *capability.Gate
}

var _ plugin.EngineFactory = (*Factory)(nil)

// NewFactory creates a Lua engine factory.
func NewFactory() *Factory {
	return &Factory{gate: capability.NewGate()}
}

// Compile loads a plugin unit into a fresh sandboxed interpreter with the
// warden host module installed. Gopher-lua has no separate binary chunk
// format, so bytecode units load through the same path as source.
func (f *Factory) Compile(ctx context.Context, req plugin.CompileRequest) (plugin.Engine, error) {
	errb := oops.In("lua").With("plugin", req.Plugin)

	L, err := newSandboxedState()
	if err != nil {
		return nil, errb.Hint("sandbox setup failed").Wrap(err)
	}

	host := &hostModule{
		plugin:  req.Plugin,
		granted: req.Granted,
		gate:    f.gate,
	}
	host.install(L)
	L.SetGlobal(stateGlobal, L.NewTable())

	unit := req.Source
	if len(unit) == 0 {
		unit = req.Bytecode
	}
	if len(unit) == 0 {
		L.Close()
		return nil, errb.New("plugin unit is empty")
	}

	L.SetContext(ctx)
	if err := L.DoString(string(unit)); err != nil {
		L.Close()
		return nil, errb.Hint("unit failed to load").Wrap(err)
	}
	L.RemoveContext()

	return &Engine{plugin: req.Plugin, L: L}, nil
}

// Engine executes one plugin's Lua state. The interpreter is single
// threaded; the mutex serializes callers.
type Engine struct {
	plugin string

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

var _ plugin.Engine = (*Engine)(nil)

// Call invokes a global Lua function by name. The context deadline aborts
// long-running plugin code.
func (e *Engine) Call(ctx context.Context, fn string, args []any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	errb := oops.In("lua").With("plugin", e.plugin).With("function", fn)
	if e.closed {
		return nil, errb.New("engine is closed")
	}

	target := e.L.GetGlobal(fn)
	lfn, ok := target.(*lua.LFunction)
	if !ok {
		return nil, errb.New("function not defined in plugin unit")
	}

	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = goToLua(e.L, a)
	}

	if err := e.L.CallByParam(lua.P{
		Fn:      lfn,
		NRet:    1,
		Protect: true,
	}, largs...); err != nil {
		return nil, errb.Wrap(err)
	}

	ret := e.L.Get(-1)
	e.L.Pop(1)
	return luaToGo(ret), nil
}

// Snapshot serializes the plugin's state table to JSON.
func (e *Engine) Snapshot(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, oops.In("lua").With("plugin", e.plugin).New("engine is closed")
	}

	tbl, ok := e.L.GetGlobal(stateGlobal).(*lua.LTable)
	if !ok {
		return nil, nil
	}
	return json.Marshal(luaToGo(tbl))
}

// Restore replaces the plugin's state table from a snapshot.
func (e *Engine) Restore(ctx context.Context, snapshot []byte) error {
	if len(snapshot) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	errb := oops.In("lua").With("plugin", e.plugin)
	if e.closed {
		return errb.New("engine is closed")
	}

	var data any
	if err := json.Unmarshal(snapshot, &data); err != nil {
		return errb.Hint("snapshot is not valid JSON").Wrap(err)
	}
	e.L.SetGlobal(stateGlobal, goToLua(e.L, data))
	return nil
}

// Close shuts down the interpreter.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.L.Close()
	return nil
}
