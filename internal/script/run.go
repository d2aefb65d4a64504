package script

import (
	"os"

	"github.com/fatih/color"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

var (
	headingStyle = color.New(color.FgYellow)
	nameStyle    = color.New(color.FgGreen)
	taskStyle    = color.New(color.FgCyan)
)

// RunOptions select what one evaluation run does.
type RunOptions struct {
	// ConfigPath is the automation script, typically hpg.lua.
	ConfigPath string
	// Vars is the merged variable bag visible to the script.
	Vars task.Variables
	// Targets are requested task names.
	Targets []string
	// RunDefaults additionally selects the script's target() list.
	RunDefaults bool
	// ShowPlan prints the execution ordering instead of running it.
	ShowPlan bool
	// ListTasks prints available named tasks instead of running.
	ListTasks bool
	// Events receives all progress reporting.
	Events *tracker.Source
}

// Run evaluates the script and executes the selected targets. This is the
// whole engine pipeline shared by the local command and the remote peer:
// evaluate, bind names, build the DAG, resolve targets, order, execute.
func Run(opts RunOptions) error {
	var src, err = os.ReadFile(opts.ConfigPath)
	if err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "loading %s", opts.ConfigPath)
	}

	var vars = opts.Vars
	var bridge = New(task.NewRegistry(), &vars, opts.Events)
	defer bridge.Close()

	if err = bridge.Eval(string(src)); err != nil {
		return err
	}

	if opts.ListTasks {
		opts.Events.Println("%s", headingStyle.Sprint("Available Tasks"))
		for _, nt := range bridge.Registry.NamedTasks() {
			opts.Events.IndentPrintln(1, "%s: %s", nameStyle.Sprint(nt.Name), nt.Task.Description)
		}
		return nil
	}

	var graph *task.Graph
	if graph, err = task.NewGraph(bridge.Registry); err != nil {
		return err
	}

	var requested []task.Task
	for _, name := range opts.Targets {
		var t, ok = bridge.Registry.TaskByName(name)
		if !ok {
			return hpgerr.New(hpgerr.Task, "Unknown task %s", name)
		}
		requested = append(requested, t)
	}
	if opts.RunDefaults {
		var defaults = bridge.DefaultTargets()
		if len(defaults) != 0 {
			opts.Events.Println("%s", taskStyle.Sprint("Default Targets"))
			for _, t := range defaults {
				opts.Events.IndentPrintln(1, "%s", t.Description)
			}
		}
		requested = append(requested, defaults...)
	}

	var handles = make([]task.Handle, 0, len(requested))
	for _, t := range requested {
		handles = append(handles, t.ID)
	}
	var ordering = graph.ExecutionForMany(handles)

	if opts.ShowPlan {
		opts.Events.Println("%s", headingStyle.Sprint("Execution Plan"))
		for i, h := range ordering {
			var t, _ = bridge.Registry.TaskByHandle(h)
			opts.Events.IndentPrintln(1, "%d. %s", i+1, t.Description)
		}
		return nil
	}

	opts.Events.Println("%s", headingStyle.Sprint("Execution"))
	var executor = task.Executor{Graph: graph, Registry: bridge.Registry, Events: opts.Events}
	_, err = executor.Run(ordering, bridge)
	return err
}
