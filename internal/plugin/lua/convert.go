// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a Go value to a Lua value. Maps and slices convert
// recursively; unsupported types become their string form.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to a Go value. Tables with contiguous
// integer keys become slices, everything else becomes a string-keyed map.
func luaToGo(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return val.String()
	}
}

func tableToGo(tbl *lua.LTable) any {
	if n := tbl.Len(); n > 0 {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, luaToGo(tbl.RawGetInt(i)))
		}
		return out
	}
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = luaToGo(v)
	})
	if len(out) == 0 {
		return []any{}
	}
	return out
}
