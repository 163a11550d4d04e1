// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

// Package lua runs plugin units on a sandboxed gopher-lua interpreter.
package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// newSandboxedState creates an LState with only safe libraries loaded.
// File, OS, and dynamic-load primitives are stripped so plugin code can
// only reach the outside world through gated host functions.
func newSandboxedState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.LoadLibName, lua.OpenPackage},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, err
		}
	}

	// The package library carries require; empty search paths restrict it
	// to preloaded host modules.
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("path", lua.LString(""))
		pkg.RawSetString("cpath", lua.LString(""))
	}

	// Base leaves escape hatches behind; remove them.
	for _, name := range []string{"dofile", "loadfile", "loadstring", "load", "print"} {
		L.SetGlobal(name, lua.LNil)
	}

	return L, nil
}
