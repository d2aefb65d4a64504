package remote

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/protocol"
	"github.com/hpgtool/hpg/internal/script"
	hpgsync "github.com/hpgtool/hpg/internal/sync"
	"github.com/hpgtool/hpg/internal/tracker"
)

// ServerConfig configures the server peer. Timeouts are policy defaults,
// overridable by the caller.
type ServerConfig struct {
	RootDir    string
	SocketPath string
	// AcceptTimeout bounds the wait for the driving client to connect;
	// on expiry the server exits clean.
	AcceptTimeout time.Duration
}

func (c *ServerConfig) socketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return DefaultSocketPath
}

func (c *ServerConfig) acceptTimeout() time.Duration {
	if c.AcceptTimeout != 0 {
		return c.AcceptTimeout
	}
	return 5 * time.Second
}

// RunServer is the remote peer: it opens the side-channel socket, serves
// one sync conversation, executes the requested tasks with progress
// forwarded over the wire, then sends Finish and returns.
func RunServer(cfg ServerConfig, events *tracker.Source, sink *tracker.Sink) error {
	var root, err = filepath.Abs(cfg.RootDir)
	if err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "resolving root dir")
	}
	if err = os.MkdirAll(root, 0o755); err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "creating root dir %s", root)
	}
	if err = os.Chdir(root); err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "entering root dir %s", root)
	}

	var socketPath = cfg.socketPath()
	if _, statErr := os.Stat(socketPath); statErr == nil {
		if err = os.Remove(socketPath); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "removing stale socket %s", socketPath)
		}
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "binding socket %s", socketPath)
	}
	defer os.Remove(socketPath)
	defer listener.Close()
	chownForSudo(socketPath)

	var ul = listener.(*net.UnixListener)
	if err = ul.SetDeadline(time.Now().Add(cfg.acceptTimeout())); err != nil {
		return hpgerr.Wrap(hpgerr.Io, err, "arming accept deadline")
	}
	conn, err := ul.Accept()
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			log.Warn("timed out waiting for client connection")
			return nil
		}
		return hpgerr.Wrap(hpgerr.Transport, err, "accepting client")
	}
	defer conn.Close()

	var bus = protocol.NewBus(conn)
	if err = hpgsync.Serve(bus, root); err != nil {
		return err
	}
	log.Debug("sync done")

	req, err := awaitExec(bus)
	if err != nil {
		return err
	}

	// Progress now belongs to the wire until the run finishes.
	sink.ToRemote(NewEventForwarder(bus))
	var runErr = script.Run(script.RunOptions{
		ConfigPath:  filepath.Join(root, req.Config),
		Vars:        req.Vars,
		Targets:     req.Targets,
		RunDefaults: req.RunDefaults,
		ShowPlan:    req.ShowPlan,
		ListTasks:   req.ListTasks,
		Events:      events,
	})
	if runErr != nil && !errors.Is(runErr, hpgerr.ErrSkippedTask) {
		events.Println("Remote error: %s", runErr)
	}
	// Reclaim the bus from the forwarder for the terminal Finish frame.
	if fw, ok := sink.ToLocal(tracker.NewTerm(os.Stdout)).(*EventForwarder); ok {
		bus = fw.Bus()
	}

	return bus.Send(protocol.Message{ExecServer: &protocol.ExecServerMessage{Finish: true}})
}

// awaitExec waits for the ExecClient frame, ignoring stray frames.
func awaitExec(bus *protocol.Bus) (*protocol.ExecRequest, error) {
	for {
		var msg, err = bus.Receive(0)
		if err != nil {
			return nil, err
		}
		if msg.ExecClient != nil {
			return msg.ExecClient, nil
		}
	}
}

// chownForSudo hands the socket to the invoking user when running under
// sudo, so the forwarded client connection can attach.
func chownForSudo(path string) {
	if os.Geteuid() != 0 {
		return
	}
	var uidStr, gidStr = os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return
	}
	var uid, err1 = strconv.Atoi(uidStr)
	var gid, err2 = strconv.Atoi(gidStr)
	if err1 != nil || err2 != nil {
		return
	}
	if err := os.Chown(path, uid, gid); err != nil {
		log.WithField("error", err).Warn("could not chown socket to invoking user")
	}
}
