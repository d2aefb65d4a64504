package script

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/hpgtool/hpg/internal/task"
)

// installActions registers the action functions available to task bodies.
// Actions are collaborators of the engine: they report through the tracker
// and raise Lua errors, which the executor converts into task failures.
func (b *Bridge) installActions() {
	var L = b.L

	L.SetGlobal("echo", L.NewFunction(func(L *lua.LState) int {
		b.events.IndentPrintln(1, "%s", L.Get(1).String())
		return 0
	}))

	L.SetGlobal("fail", L.NewFunction(func(L *lua.LState) int {
		var msg = "Task failed"
		if L.GetTop() >= 1 {
			msg = L.CheckString(1)
		}
		L.RaiseError("%s", msg)
		return 0
	}))

	L.SetGlobal("success", L.NewFunction(func(L *lua.LState) int {
		L.Push(b.newResultValue(task.Successful()))
		return 1
	}))

	L.SetGlobal("cancel", L.NewFunction(func(L *lua.LState) int {
		var reason string
		if L.GetTop() >= 1 {
			reason = L.CheckString(1)
		}
		L.Push(b.newResultValue(task.Incompleted(reason)))
		return 1
	}))

	L.SetGlobal("hash_text", L.NewFunction(func(L *lua.LState) int {
		var sum = sha256.Sum256([]byte(L.CheckString(1)))
		L.Push(lua.LString(fmt.Sprintf("%x", sum)))
		return 1
	}))

	L.SetGlobal("from_json", L.NewFunction(func(L *lua.LState) int {
		var parsed interface{}
		if err := json.Unmarshal([]byte(L.CheckString(1)), &parsed); err != nil {
			L.RaiseError("invalid json: %s", err)
		}
		L.Push(goToLua(L, parsed))
		return 1
	}))

	L.SetGlobal("exec", L.NewFunction(b.execAction))
	L.SetGlobal("shell", L.NewFunction(func(L *lua.LState) int {
		var cmdline = L.CheckString(1)
		return b.runProcess(L, "sh", []string{"-c", cmdline}, "", nil, false)
	}))
}

// execAction runs a process described by an options table:
//
//	exec { cmd = "...", args = {...}, cwd = "...", env = {...}, ignore_exit = bool }
func (b *Bridge) execAction(L *lua.LState) int {
	var opts = L.CheckTable(1)
	var cmd = lua.LVAsString(opts.RawGetString("cmd"))
	if cmd == "" {
		L.RaiseError("exec: missing cmd")
	}
	var args []string
	if t, ok := opts.RawGetString("args").(*lua.LTable); ok {
		for i := 1; i <= t.Len(); i++ {
			args = append(args, lua.LVAsString(t.RawGetInt(i)))
		}
	}
	var cwd = lua.LVAsString(opts.RawGetString("cwd"))
	var env []string
	if t, ok := opts.RawGetString("env").(*lua.LTable); ok {
		t.ForEach(func(k, v lua.LValue) {
			env = append(env, fmt.Sprintf("%s=%s", k.String(), v.String()))
		})
	}
	var ignoreExit = lua.LVAsBool(opts.RawGetString("ignore_exit"))
	return b.runProcess(L, cmd, args, cwd, env, ignoreExit)
}

// runProcess executes the command, streaming its output through the tracker
// with bars suspended, and pushes {status, stdout, stderr}. A non-zero exit
// raises unless ignoreExit.
func (b *Bridge) runProcess(L *lua.LState, name string, args []string, cwd string, env []string, ignoreExit bool) int {
	var cmd = exec.Command(name, args...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}

	var stdout, err = cmd.StdoutPipe()
	if err != nil {
		L.RaiseError("exec %s: %s", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		L.RaiseError("exec %s: %s", name, err)
	}

	b.events.SuspendBars()
	defer b.events.ResumeBars()
	b.events.Println("$ %s", strings.Join(append([]string{name}, args...), " "))

	if err = cmd.Start(); err != nil {
		L.RaiseError("exec %s: %s", name, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	var stream = func(r io.Reader, buf *strings.Builder) {
		defer wg.Done()
		var scanner = bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
			b.events.IndentPrintln(1, "%s", scanner.Text())
		}
	}
	wg.Add(2)
	go stream(stdout, &outBuf)
	go stream(stderr, &errBuf)
	wg.Wait()

	var status = 0
	if err = cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		} else {
			L.RaiseError("exec %s: %s", name, err)
		}
	}
	if status != 0 && !ignoreExit {
		L.RaiseError("exec %s: exit status %d", name, status)
	}

	var res = L.NewTable()
	res.RawSetString("status", lua.LNumber(status))
	res.RawSetString("stdout", lua.LString(outBuf.String()))
	res.RawSetString("stderr", lua.LString(errBuf.String()))
	L.Push(res)
	return 1
}
