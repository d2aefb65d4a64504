package main

import (
	"github.com/hpgtool/hpg/internal/script"
)

type cmdLocal struct {
	scriptOptions

	Args struct {
		Targets []string `positional-arg-name:"TARGETS" description:"Task names to run"`
	} `positional-args:"yes"`
}

func (c *cmdLocal) Execute(_ []string) error {
	initLogging()

	var vars, err = c.parseVariables()
	if err != nil {
		return err
	}

	var events, _, stop = newTracker()
	defer stop()

	return script.Run(script.RunOptions{
		ConfigPath:  c.Config,
		Vars:        vars,
		Targets:     c.Args.Targets,
		RunDefaults: c.RunDefaults,
		ShowPlan:    c.Show,
		ListTasks:   c.List,
		Events:      events,
	})
}
