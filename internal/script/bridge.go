// Package script embeds the Lua host and installs the automation surface:
// the task() and target() globals that populate the task registry, the vars
// bag, and the action functions task bodies call. The rest of the engine
// treats the host as an opaque bag of callables keyed by task handle.
package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

const (
	taskTypeName   = "hpg.task"
	resultTypeName = "hpg.result"
	varsTypeName   = "hpg.vars"
)

// Bridge owns one Lua state and the registry populated by evaluating a
// script in it. It implements task.Callbacks for the executor.
type Bridge struct {
	L        *lua.LState
	Registry *task.Registry

	events    *tracker.Source
	vars      *task.Variables
	callbacks map[task.Handle]*lua.LFunction
	targets   []task.Task

	taskMT   *lua.LTable
	resultMT *lua.LTable
}

// New builds a bridge around a fresh Lua state with a restricted standard
// library (no io, no os) and the automation globals installed.
func New(reg *task.Registry, vars *task.Variables, events *tracker.Source) *Bridge {
	var L = lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	var b = &Bridge{
		L:         L,
		Registry:  reg,
		events:    events,
		vars:      vars,
		callbacks: make(map[task.Handle]*lua.LFunction),
	}
	b.taskMT = L.NewTypeMetatable(taskTypeName)
	b.resultMT = L.NewTypeMetatable(resultTypeName)
	b.installTask()
	b.installTarget()
	b.installVars()
	b.installActions()
	return b
}

// Close releases the Lua state.
func (b *Bridge) Close() { b.L.Close() }

// Eval runs the script source, then walks the global namespace binding
// every global whose value is a task into the registry's name map.
func (b *Bridge) Eval(src string) error {
	if err := b.L.DoString(src); err != nil {
		return scriptError(err)
	}
	b.findTasks()
	return nil
}

// DefaultTargets returns the tasks accumulated by target() calls.
func (b *Bridge) DefaultTargets() []task.Task { return b.targets }

// Has implements task.Callbacks.
func (b *Bridge) Has(h task.Handle) bool {
	var _, ok = b.callbacks[h]
	return ok
}

// Call implements task.Callbacks: it invokes the Lua body for h. An
// explicit result userdata is returned as-is; any other return value means
// success; a raised Lua error is returned with its traceback.
func (b *Bridge) Call(h task.Handle) (*task.Result, error) {
	var fn = b.callbacks[h]
	if err := b.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, scriptCallError(err)
	}
	var ret = b.L.Get(-1)
	b.L.Pop(1)
	if ud, ok := ret.(*lua.LUserData); ok {
		if res, ok := ud.Value.(task.Result); ok {
			return &res, nil
		}
	}
	return nil, nil
}

// newTaskValue wraps a task record as Lua userdata.
func (b *Bridge) newTaskValue(t task.Task) *lua.LUserData {
	var ud = b.L.NewUserData()
	ud.Value = t
	b.L.SetMetatable(ud, b.taskMT)
	return ud
}

// newResultValue wraps a task result as Lua userdata.
func (b *Bridge) newResultValue(r task.Result) *lua.LUserData {
	var ud = b.L.NewUserData()
	ud.Value = r
	b.L.SetMetatable(ud, b.resultMT)
	return ud
}

func taskOf(v lua.LValue) (task.Task, bool) {
	if ud, ok := v.(*lua.LUserData); ok {
		if t, ok := ud.Value.(task.Task); ok {
			return t, true
		}
	}
	return task.Task{}, false
}

// installTask installs the task() global. Accepted shapes:
//
//	task(description, {dep, ...}, fn)
//	task(description, dep, fn)
//	task(description, fn)
//
// where each dep is a task value. Returns the created task value.
func (b *Bridge) installTask() {
	b.L.SetGlobal("task", b.L.NewFunction(func(L *lua.LState) int {
		var desc = L.CheckString(1)
		var deps []task.Handle
		var fn *lua.LFunction

		switch arg := L.Get(2).(type) {
		case *lua.LTable:
			var n = arg.Len()
			for i := 1; i <= n; i++ {
				var t, ok = taskOf(arg.RawGetInt(i))
				if !ok {
					L.RaiseError("task dependencies must be a task or sequence of tasks")
				}
				deps = append(deps, t.ID)
			}
		case *lua.LUserData:
			var t, ok = taskOf(arg)
			if !ok {
				L.RaiseError("task dependencies must be a task or sequence of tasks")
			}
			deps = append(deps, t.ID)
		case *lua.LFunction:
			fn = arg
		default:
			L.RaiseError("invalid signature for task(): second argument is not a table, task, or function")
		}

		switch arg := L.Get(3).(type) {
		case *lua.LNilType:
		case *lua.LFunction:
			if fn != nil {
				L.RaiseError("invalid signature for task(): two functions")
			}
			fn = arg
		default:
			L.RaiseError("invalid signature for task(): third argument is not a function")
		}

		var id = b.Registry.NextID()
		var t = task.Task{ID: id, Description: desc, Deps: deps}
		b.Registry.Register(t)
		if fn != nil {
			b.callbacks[id] = fn
		}
		b.events.Debug("registered task '%s'", desc)
		L.Push(b.newTaskValue(t))
		return 1
	}))
}

// installTarget installs the target() global, which appends default
// targets. Strings resolve through the name map; task values apply
// directly. Duplicates are dropped.
func (b *Bridge) installTarget() {
	b.L.SetGlobal("target", b.L.NewFunction(func(L *lua.LState) int {
		// Bind any globals assigned so far so names are resolvable at
		// call time.
		b.findTasks()
		for i := 1; i <= L.GetTop(); i++ {
			switch arg := L.Get(i).(type) {
			case lua.LString:
				var t, ok = b.Registry.TaskByName(string(arg))
				if !ok {
					L.RaiseError("Unknown task '%s'", string(arg))
				}
				b.addTarget(t)
			case *lua.LUserData:
				var t, ok = taskOf(arg)
				if !ok {
					L.RaiseError("invalid argument type to target()")
				}
				b.addTarget(t)
			default:
				L.RaiseError("invalid argument type to target()")
			}
		}
		return 0
	}))
}

func (b *Bridge) addTarget(t task.Task) {
	for _, have := range b.targets {
		if have.ID == t.ID {
			return
		}
	}
	b.targets = append(b.targets, t)
}

// installVars installs the vars global: indexing reads a variable (an
// undefined variable is an error), assignment records a run-scoped default.
func (b *Bridge) installVars() {
	var mt = b.L.NewTypeMetatable(varsTypeName)
	b.L.SetField(mt, "__index", b.L.NewFunction(func(L *lua.LState) int {
		var key = L.CheckString(2)
		var val, ok = b.vars.Get(key)
		if !ok {
			L.RaiseError("Variable '%s' not defined.", key)
		}
		L.Push(goToLua(L, val))
		return 1
	}))
	b.L.SetField(mt, "__newindex", b.L.NewFunction(func(L *lua.LState) int {
		var key = L.CheckString(2)
		b.vars.SetDefault(key, luaToGo(L.Get(3)))
		return 0
	}))

	var ud = b.L.NewUserData()
	b.L.SetMetatable(ud, mt)
	b.L.SetGlobal("vars", ud)
}

// findTasks records every global bound to a task value under that global's
// name. The first binding of a name wins.
func (b *Bridge) findTasks() {
	b.L.G.Global.ForEach(func(k, v lua.LValue) {
		var name, ok = k.(lua.LString)
		if !ok {
			return
		}
		if t, isTask := taskOf(v); isTask {
			b.Registry.RegisterName(t.ID, string(name))
		}
	})
}

// scriptError classifies a top-level evaluation failure.
func scriptError(err error) error {
	if apiErr, ok := err.(*lua.ApiError); ok {
		return hpgerr.New(hpgerr.Script, "%s", apiErr.Error())
	}
	return hpgerr.Wrap(hpgerr.Script, err, "evaluating script")
}

// scriptCallError classifies a failure raised inside a task body, keeping
// the traceback for the user.
func scriptCallError(err error) error {
	if apiErr, ok := err.(*lua.ApiError); ok {
		if apiErr.StackTrace != "" {
			return hpgerr.New(hpgerr.Task, "%s\n%s", apiErr.Object.String(), apiErr.StackTrace)
		}
		return hpgerr.New(hpgerr.Task, "%s", apiErr.Object.String())
	}
	return hpgerr.Wrap(hpgerr.Task, err, "task callback")
}
