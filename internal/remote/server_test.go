package remote

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpgtool/hpg/internal/protocol"
	hpgsync "github.com/hpgtool/hpg/internal/sync"
	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

type nullRenderer struct{}

func (nullRenderer) Event(tracker.Event) {}
func (nullRenderer) SetDebug(bool)       {}

func dialRetry(t *testing.T, path string) net.Conn {
	t.Helper()
	var deadline = time.Now().Add(5 * time.Second)
	for {
		var conn, err = net.Dial("unix", path)
		if err == nil {
			return conn
		}
		require.True(t, time.Now().Before(deadline), "server socket never appeared: %v", err)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServerSyncThenExec(t *testing.T) {
	var serverRoot = filepath.Join(t.TempDir(), "project")
	var socketPath = filepath.Join(t.TempDir(), "hpg.socket")

	var serverEvents, serverSink = tracker.New(nullRenderer{}, false)
	go serverSink.Run()
	defer func() {
		serverEvents.Exit()
		serverSink.Wait()
	}()

	var serverDone = make(chan error, 1)
	go func() {
		serverDone <- RunServer(ServerConfig{
			RootDir:    serverRoot,
			SocketPath: socketPath,
		}, serverEvents, serverSink)
	}()

	var clientRoot = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(clientRoot, "hpg.lua"), []byte(`
greet = task("greet", function() echo("hello from remote") end)
follow = task("follow-up", greet, function() end)
`), 0o644))

	var conn = dialRetry(t, socketPath)
	defer conn.Close()
	var bus = protocol.NewBus(conn)

	var clientEvents, clientSink = tracker.New(nullRenderer{}, false)
	go clientSink.Run()
	defer func() {
		clientEvents.Exit()
		clientSink.Wait()
	}()

	require.NoError(t, hpgsync.Client(bus, clientRoot, clientEvents))

	// The project arrived before execution starts.
	var synced, err = os.ReadFile(filepath.Join(serverRoot, "hpg.lua"))
	require.NoError(t, err)
	require.Contains(t, string(synced), "hello from remote")

	require.NoError(t, bus.Send(protocol.Message{ExecClient: &protocol.ExecRequest{
		Vars:    task.NewVariables(),
		Config:  "hpg.lua",
		Targets: []string{"follow"},
	}}))

	var kinds []tracker.EventKind
	var taskStarts []string
	for {
		msg, err := bus.Receive(10 * time.Second)
		require.NoError(t, err)
		if msg.ExecServer != nil && msg.ExecServer.Finish {
			break
		}
		if msg.ExecServer != nil && msg.ExecServer.Event != nil {
			kinds = append(kinds, msg.ExecServer.Event.Kind)
			if msg.ExecServer.Event.Kind == tracker.KindTaskStart {
				taskStarts = append(taskStarts, msg.ExecServer.Event.Msg)
			}
		}
	}

	require.Equal(t, []string{"greet", "follow-up"}, taskStarts)
	require.Contains(t, kinds, tracker.KindBatchStart)
	require.Contains(t, kinds, tracker.KindTaskComplete)
	require.Contains(t, kinds, tracker.KindBatchSuccess)

	require.NoError(t, <-serverDone)
	var _, statErr = os.Stat(socketPath)
	require.True(t, os.IsNotExist(statErr), "socket file is removed on exit")
}

func TestServerExitsCleanWhenNoClientConnects(t *testing.T) {
	var events, sink = tracker.New(nullRenderer{}, false)
	go sink.Run()
	defer func() {
		events.Exit()
		sink.Wait()
	}()

	var err = RunServer(ServerConfig{
		RootDir:       filepath.Join(t.TempDir(), "root"),
		SocketPath:    filepath.Join(t.TempDir(), "hpg.socket"),
		AcceptTimeout: 50 * time.Millisecond,
	}, events, sink)
	require.NoError(t, err)
}
