package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

var globals struct {
	Debug bool `long:"debug" description:"Show debug output"`
}

func main() {
	var parser = flags.NewParser(&globals, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "local", "Run hpg locally", `
Evaluate the automation script in the current directory and execute the
requested targets on this host.
`, &cmdLocal{})

	addCmd(parser, "ssh", "Run hpg over SSH", `
Synchronise the project directory to a remote host resolved through the
inventory, then execute the requested targets there, streaming progress
back to this terminal.
`, &cmdSSH{})

	var server = addCmd(parser, "server", "Run the hpg sync/exec server", `
Internal subcommand. Spawned on the remote host by 'hpg ssh'; serves one
sync conversation and one execution over a local socket, then exits.
`, &cmdServer{})
	server.Hidden = true

	var _, err = parser.Parse()
	if err != nil {
		if flags.WroteHelp(err) {
			return
		}
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		reportError(err)
		os.Exit(1)
	}
}

func addCmd(parser *flags.Parser, name, short, long string, data interface{}) *flags.Command {
	var cmd, err = parser.AddCommand(name, short, long, data)
	if err != nil {
		panic(err)
	}
	return cmd
}

// reportError prints one categorised summary line. The skipped-task
// terminal stays silent: the tracker already reported the batch failure.
func reportError(err error) {
	if errors.Is(err, hpgerr.ErrSkippedTask) {
		return
	}
	var label = "Error"
	if kind, ok := hpgerr.KindOf(err); ok {
		switch kind {
		case hpgerr.Auth:
			label = "Authentication error"
		case hpgerr.Transport:
			label = "Transport error"
		case hpgerr.Protocol:
			label = "Protocol error"
		case hpgerr.Config:
			label = "Config error"
		case hpgerr.Script:
			label = "Script error"
		case hpgerr.Task:
			label = "Task error"
		case hpgerr.Io:
			label = "IO error"
		case hpgerr.Timeout:
			label = "Timeout"
		}
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", label, err)
}

// initLogging sends diagnostics to stderr, at debug level behind the
// global flag. Stdout stays reserved for the tracker's rendering.
func initLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{})
	if globals.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

// newTracker starts the sink goroutine; the returned stop function drains
// and joins it.
func newTracker() (*tracker.Source, *tracker.Sink, func()) {
	var events, sink = tracker.New(tracker.NewTerm(os.Stdout), globals.Debug)
	go sink.Run()
	return events, sink, func() {
		events.Exit()
		sink.Wait()
	}
}

// scriptOptions are the flags shared by every command that evaluates a
// script.
type scriptOptions struct {
	Config      string   `short:"c" long:"config" default:"hpg.lua" value-name:"CONFIG" description:"Path to hpg config file"`
	RunDefaults bool     `short:"D" long:"default-targets" description:"Run default targets in config"`
	Variables   []string `short:"v" long:"var" value-name:"KEY=VALUE" description:"Key-value pairs to add as variables"`
	VarFiles    []string `long:"vars" value-name:"VARS-FILE" description:"Path to JSON variables file"`
	Show        bool     `short:"s" long:"show" description:"Show planned execution but do not execute"`
	List        bool     `short:"l" long:"list" description:"Show available targets"`
}

// parseVariables merges -v pairs over --vars files; flags win, and earlier
// files take precedence over later ones.
func (o *scriptOptions) parseVariables() (task.Variables, error) {
	var pairs = make(map[string]string, len(o.Variables))
	for _, kv := range o.Variables {
		var k, v, ok = cutVar(kv)
		if !ok {
			return task.Variables{}, hpgerr.New(hpgerr.Config, "invalid variable %q: missing '='", kv)
		}
		pairs[k] = v
	}
	var vars = task.FromMap(pairs)
	for _, f := range o.VarFiles {
		var fileVars, err = task.FromFile(f)
		if err != nil {
			return task.Variables{}, err
		}
		vars = fileVars.Merge(vars)
	}
	return vars, nil
}

func cutVar(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
