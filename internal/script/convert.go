package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a JSON-shaped Go value into a Lua value. Map keys are
// stringified; CBOR decoding can yield map[interface{}]interface{} for
// nested objects, so both map shapes are handled.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []interface{}:
		var t = L.NewTable()
		for _, item := range val {
			t.Append(goToLua(L, item))
		}
		return t
	case map[string]interface{}:
		var t = L.NewTable()
		for k, item := range val {
			t.RawSetString(k, goToLua(L, item))
		}
		return t
	case map[interface{}]interface{}:
		var t = L.NewTable()
		for k, item := range val {
			t.RawSetString(fmt.Sprint(k), goToLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// luaToGo converts a Lua value into a JSON-shaped Go value. A table with a
// non-empty sequence part becomes a slice, otherwise an object.
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			var out = make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		var out = make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return v.String()
	}
}
