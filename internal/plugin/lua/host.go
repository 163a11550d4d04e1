// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package lua

import (
	"io"
	"log/slog"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// hostModule exposes the "warden" table to plugin code. Every function
// that touches the outside world checks the granted capability set before
// acting; under-declared manifests cannot slip past load-time validation.
type hostModule struct {
	plugin  string
	granted capability.Set
	gate    *capability.Gate
}

// install preloads the warden module so plugin code can require("warden").
func (h *hostModule) install(L *lua.LState) {
	L.PreloadModule("warden", func(L *lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"read_file": h.readFile,
			"env_get":   h.envGet,
			"time_now":  h.timeNow,
			"log":       h.log,
		})
		L.Push(mod)
		return 1
	})
}

// pushErr returns (nil, message) to the Lua caller.
func pushErr(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// readFile reads a file, gated on fs:read and bounded by the size quota.
func (h *hostModule) readFile(L *lua.LState) int {
	path := L.CheckString(1)
	if err := h.gate.Check(h.plugin, capability.FileRead, h.granted); err != nil {
		return pushErr(L, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return pushErr(L, err)
	}
	defer f.Close()

	limit := h.granted.Quotas().MaxFileSize
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return pushErr(L, err)
	}
	if int64(len(data)) > limit {
		slog.Warn("file read exceeds quota",
			"plugin", h.plugin, "path", path, "limit", limit)
		L.Push(lua.LNil)
		L.Push(lua.LString("file exceeds size quota"))
		return 2
	}

	L.Push(lua.LString(data))
	return 1
}

// envGet reads an environment variable, gated on sys:env.
func (h *hostModule) envGet(L *lua.LState) int {
	name := L.CheckString(1)
	if err := h.gate.Check(h.plugin, capability.EnvRead, h.granted); err != nil {
		return pushErr(L, err)
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(val))
	return 1
}

// timeNow returns the current Unix time in seconds, gated on sys:time.
func (h *hostModule) timeNow(L *lua.LState) int {
	if err := h.gate.Check(h.plugin, capability.TimeRead, h.granted); err != nil {
		return pushErr(L, err)
	}
	L.Push(lua.LNumber(float64(time.Now().UnixNano()) / float64(time.Second)))
	return 1
}

// log writes a structured log entry attributed to the plugin. Ungated;
// logging is always allowed.
func (h *hostModule) log(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	attrs := []any{"plugin", h.plugin}
	switch level {
	case "debug":
		slog.Debug(msg, attrs...)
	case "warn":
		slog.Warn(msg, attrs...)
	case "error":
		slog.Error(msg, attrs...)
	default:
		slog.Info(msg, attrs...)
	}
	return 0
}
