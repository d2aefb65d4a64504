package sync

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpgtool/hpg/internal/protocol"
	"github.com/hpgtool/hpg/internal/rsync"
	"github.com/hpgtool/hpg/internal/tracker"
)

type nullRenderer struct{}

func (nullRenderer) Event(tracker.Event) {}
func (nullRenderer) SetDebug(bool)       {}

// recordingConn captures everything the client writes so tests can assert
// on the exact wire conversation.
type recordingConn struct {
	inner io.ReadWriter

	mu   sync.Mutex
	sent bytes.Buffer
}

func (c *recordingConn) Read(p []byte) (int, error) { return c.inner.Read(p) }

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.sent.Write(p)
	c.mu.Unlock()
	return c.inner.Write(p)
}

func (c *recordingConn) sentMessages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var dec protocol.Decoder
	dec.Write(c.sent.Bytes())
	var out []protocol.Message
	for {
		var msg, err = dec.Next()
		require.NoError(t, err)
		if msg == nil {
			return out
		}
		out = append(out, *msg)
	}
}

// runSync drives a full client/server conversation over an in-memory pipe
// and returns every message the client sent.
func runSync(t *testing.T, clientRoot, serverRoot string) []protocol.Message {
	t.Helper()
	var a, b = net.Pipe()
	defer a.Close()
	defer b.Close()

	var serverDone = make(chan error, 1)
	go func() {
		serverDone <- Serve(protocol.NewBus(b), serverRoot)
	}()

	var events, sink = tracker.New(nullRenderer{}, false)
	go sink.Run()
	defer func() {
		events.Exit()
		sink.Wait()
	}()

	var rec = &recordingConn{inner: a}
	require.NoError(t, Client(protocol.NewBus(rec), clientRoot, events))
	require.NoError(t, <-serverDone)
	return rec.sentMessages(t)
}

func patchesOf(msgs []protocol.Message) []*protocol.FilePatch {
	var out []*protocol.FilePatch
	for _, m := range msgs {
		if m.SyncClient != nil && m.SyncClient.Patch != nil {
			out = append(out, m.SyncClient.Patch)
		}
	}
	return out
}

func requireTreesEqual(t *testing.T, clientRoot, serverRoot string) {
	t.Helper()
	var entries, err = Walk(clientRoot)
	require.NoError(t, err)
	for _, e := range entries {
		var serverPath = filepath.Join(serverRoot, filepath.FromSlash(e.RelPath))
		if e.Kind == protocol.KindDir {
			var fi, statErr = os.Stat(serverPath)
			require.NoError(t, statErr)
			require.True(t, fi.IsDir())
			continue
		}
		var want, readErr = os.ReadFile(filepath.Join(clientRoot, filepath.FromSlash(e.RelPath)))
		require.NoError(t, readErr)
		got, readErr := os.ReadFile(serverPath)
		require.NoError(t, readErr)
		require.True(t, bytes.Equal(want, got), "contents of %s must converge", e.RelPath)
	}
}

func TestTwoFileAbsentSync(t *testing.T) {
	var clientRoot, serverRoot = t.TempDir(), t.TempDir()
	writeTree(t, clientRoot, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	})

	var msgs = runSync(t, clientRoot, serverRoot)

	// FileList → two full patches → Close.
	require.NotNil(t, msgs[0].SyncClient)
	require.NotNil(t, msgs[0].SyncClient.FileList)
	var patches = patchesOf(msgs)
	require.Len(t, patches, 2)
	var byPath = map[string][]byte{}
	for _, p := range patches {
		require.NotNil(t, p.Patch.Full, "absent files get full patches")
		byPath[p.RelPath] = p.Patch.Full.Contents
	}
	require.Equal(t, []byte("alpha"), byPath["a.txt"])
	require.Equal(t, []byte("beta"), byPath["b.txt"])
	require.True(t, msgs[len(msgs)-1].SyncClient.Close)

	requireTreesEqual(t, clientRoot, serverRoot)
}

func TestIdenticalTreeSendsNoPatches(t *testing.T) {
	var clientRoot, serverRoot = t.TempDir(), t.TempDir()
	var tree = map[string]string{
		"hpg.lua":     "-- script",
		"files/motd":  "welcome",
		"files/hosts": "127.0.0.1 localhost",
	}
	writeTree(t, clientRoot, tree)
	writeTree(t, serverRoot, tree)

	var msgs = runSync(t, clientRoot, serverRoot)
	require.Empty(t, patchesOf(msgs))
	// Close directly follows the file list.
	require.True(t, msgs[len(msgs)-1].SyncClient.Close)
}

func TestSecondSyncIsIdempotent(t *testing.T) {
	var clientRoot, serverRoot = t.TempDir(), t.TempDir()
	writeTree(t, clientRoot, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	var first = runSync(t, clientRoot, serverRoot)
	require.Len(t, patchesOf(first), 2)

	var second = runSync(t, clientRoot, serverRoot)
	require.Empty(t, patchesOf(second))
	requireTreesEqual(t, clientRoot, serverRoot)
}

func TestDeltaSyncForModifiedFile(t *testing.T) {
	var clientRoot, serverRoot = t.TempDir(), t.TempDir()

	// Server holds an older copy differing in one 4 KiB block.
	var newer = make([]byte, 2<<20)
	var x uint32 = 2463534242
	for i := range newer {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		newer[i] = byte(x)
	}
	var older = append([]byte(nil), newer...)
	copy(older[3*rsync.BlockSize:], bytes.Repeat([]byte{0xEE}, rsync.BlockSize))

	require.NoError(t, os.WriteFile(filepath.Join(clientRoot, "c.bin"), newer, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(serverRoot, "c.bin"), older, 0o644))

	var msgs = runSync(t, clientRoot, serverRoot)
	var patches = patchesOf(msgs)
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Patch.Partial, "present files get delta patches")
	require.Less(t, len(patches[0].Patch.Partial.Delta), len(newer)/100)

	var got, err = os.ReadFile(filepath.Join(serverRoot, "c.bin"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(newer, got))
	// The temp file must not survive the atomic replace.
	var _, statErr = os.Stat(filepath.Join(serverRoot, "c.bin"+tempSuffix))
	require.True(t, os.IsNotExist(statErr))
}

func TestServerRejectsEscapingPaths(t *testing.T) {
	var serverRoot = t.TempDir()
	var a, b = net.Pipe()
	defer a.Close()
	defer b.Close()

	var serverDone = make(chan error, 1)
	go func() {
		serverDone <- Serve(protocol.NewBus(b), serverRoot)
	}()

	var client = protocol.NewBus(a)
	require.NoError(t, client.Send(protocol.Message{SyncClient: &protocol.SyncClientMessage{
		Patch: &protocol.FilePatch{
			RelPath: "../escape.txt",
			Patch:   protocol.PatchData{Full: &protocol.FullPatch{Contents: []byte("nope")}},
		},
	}}))

	var msg, err = client.Receive(0)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Error)
	require.Error(t, <-serverDone)

	var _, statErr = os.Stat(filepath.Join(filepath.Dir(serverRoot), "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
}
