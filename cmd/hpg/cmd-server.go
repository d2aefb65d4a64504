package main

import (
	"github.com/hpgtool/hpg/internal/remote"
)

type cmdServer struct {
	Socket string `long:"socket" default:"/tmp/hpg.socket" value-name:"PATH" description:"Socket path to listen on"`

	Args struct {
		RootDir string `positional-arg-name:"ROOT-DIR" required:"yes" description:"Base dir for hpg sync"`
	} `positional-args:"yes"`
}

func (c *cmdServer) Execute(_ []string) error {
	initLogging()

	var events, sink, stop = newTracker()
	defer stop()

	return remote.RunServer(remote.ServerConfig{
		RootDir:    c.Args.RootDir,
		SocketPath: c.Socket,
	}, events, sink)
}
