package main

import (
	"github.com/hpgtool/hpg/internal/remote"
)

type cmdSSH struct {
	Inventory string `short:"i" long:"inventory" value-name:"INVENTORY" description:"Path to inventory file"`
	Identity  string `long:"identity" value-name:"FILE" description:"Path to SSH identity file"`

	scriptOptions

	Args struct {
		Host    string   `positional-arg-name:"[USER@]HOST[:PORT]" required:"yes" description:"Remote host address"`
		Targets []string `positional-arg-name:"TARGETS" description:"Task names to run"`
	} `positional-args:"yes"`
}

func (c *cmdSSH) Execute(_ []string) error {
	initLogging()

	var host, err = remote.ParseHost(c.Args.Host)
	if err != nil {
		return err
	}

	var inv remote.Inventory
	if c.Inventory != "" {
		inv, err = remote.LoadInventory(c.Inventory)
	} else {
		inv, err = remote.FindInventory("inventory.yaml", "inventory.yml", "inventory.json")
	}
	if err != nil {
		return err
	}

	vars, err := c.parseVariables()
	if err != nil {
		return err
	}

	var events, _, stop = newTracker()
	defer stop()

	return remote.RunSSH(remote.SSHOptions{
		Host:         host,
		ProjectDir:   ".",
		ConfigPath:   c.Config,
		IdentityFile: c.Identity,
		Vars:         vars,
		Targets:      c.Args.Targets,
		RunDefaults:  c.RunDefaults,
		ShowPlan:     c.Show,
		ListTasks:    c.List,
		Events:       events,
	}, inv)
}
