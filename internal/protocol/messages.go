// Package protocol defines the wire messages exchanged between the local
// driver and the remote peer, the length-prefixed framing codec, and the
// message bus layered on top of it.
//
// Messages encode as CBOR. Unions are maps with exactly one key present:
// the variant tag. The resulting stream is compact and self-describing,
// and both peers are this binary, so the encoding is the format.
package protocol

import (
	"fmt"

	"github.com/hpgtool/hpg/internal/task"
	"github.com/hpgtool/hpg/internal/tracker"
)

// FileKind distinguishes walker entries.
type FileKind uint8

const (
	KindDir FileKind = iota + 1
	KindFile
)

// LocalFile is one entry of the client's project walk. RelPath is
// slash-separated and relative to the project root; it never contains
// absolute or parent-traversal components.
type LocalFile struct {
	Kind    FileKind `cbor:"kind"`
	RelPath string   `cbor:"rel_path"`
}

// PresentFile carries the signature of a file that exists on the server.
type PresentFile struct {
	Sig []byte `cbor:"sig"`
}

// FileState is the union Present | Absent.
type FileState struct {
	Present *PresentFile `cbor:"Present,omitempty"`
	Absent  bool         `cbor:"Absent,omitempty"`
}

// FileInfo is the server's per-file status reply.
type FileInfo struct {
	RelPath string    `cbor:"rel_path"`
	Status  FileState `cbor:"status"`
}

// FullPatch replaces the whole file.
type FullPatch struct {
	Contents []byte `cbor:"contents"`
}

// PartialPatch transforms the server's copy using a delta computed against
// its signature.
type PartialPatch struct {
	Delta []byte `cbor:"delta"`
}

// PatchData is the union Full | Partial.
type PatchData struct {
	Full    *FullPatch    `cbor:"Full,omitempty"`
	Partial *PartialPatch `cbor:"Partial,omitempty"`
}

// FilePatch is the client's update for one file.
type FilePatch struct {
	RelPath string    `cbor:"rel_path"`
	Patch   PatchData `cbor:"patch"`
}

// FileListMessage carries the client's full project enumeration. It is a
// wrapper so that an empty project still produces a decodable variant.
type FileListMessage struct {
	Entries []LocalFile `cbor:"entries"`
}

// FileStatusMessage carries the server's per-file replies.
type FileStatusMessage struct {
	Entries []FileInfo `cbor:"entries"`
}

// SyncClientMessage is the union of messages sent by the sync client.
type SyncClientMessage struct {
	FileList *FileListMessage `cbor:"FileList,omitempty"`
	Patch    *FilePatch       `cbor:"Patch,omitempty"`
	Close    bool             `cbor:"Close,omitempty"`
}

// SyncServerMessage is the union of messages sent by the sync server.
type SyncServerMessage struct {
	FileStatus   *FileStatusMessage `cbor:"FileStatus,omitempty"`
	PatchApplied string             `cbor:"PatchApplied,omitempty"`
}

// ExecRequest asks the remote peer to evaluate and execute its synced
// project with the given variables and task selection.
type ExecRequest struct {
	Vars        task.Variables `cbor:"vars"`
	Config      string         `cbor:"config"`
	RunDefaults bool           `cbor:"run_defaults"`
	ShowPlan    bool           `cbor:"show_plan"`
	ListTasks   bool           `cbor:"list_tasks"`
	Targets     []string       `cbor:"targets"`
}

// ExecServerMessage is the union of messages sent during remote execution.
type ExecServerMessage struct {
	Event  *tracker.Event `cbor:"Event,omitempty"`
	Finish bool           `cbor:"Finish,omitempty"`
}

// Message is the top-level wire union.
type Message struct {
	SyncClient *SyncClientMessage `cbor:"SyncClient,omitempty"`
	SyncServer *SyncServerMessage `cbor:"SyncServer,omitempty"`
	ExecClient *ExecRequest       `cbor:"ExecClient,omitempty"`
	ExecServer *ExecServerMessage `cbor:"ExecServer,omitempty"`
	Error      string             `cbor:"Error,omitempty"`
	Debug      string             `cbor:"Debug,omitempty"`
}

func (m Message) String() string {
	switch {
	case m.SyncClient != nil:
		switch {
		case m.SyncClient.FileList != nil:
			return fmt.Sprintf("SyncClient.FileList(%d entries)", len(m.SyncClient.FileList.Entries))
		case m.SyncClient.Patch != nil:
			return fmt.Sprintf("SyncClient.Patch(%s)", m.SyncClient.Patch.RelPath)
		default:
			return "SyncClient.Close"
		}
	case m.SyncServer != nil:
		if m.SyncServer.FileStatus != nil {
			return fmt.Sprintf("SyncServer.FileStatus(%d entries)", len(m.SyncServer.FileStatus.Entries))
		}
		return fmt.Sprintf("SyncServer.PatchApplied(%s)", m.SyncServer.PatchApplied)
	case m.ExecClient != nil:
		return fmt.Sprintf("ExecClient(targets=%v)", m.ExecClient.Targets)
	case m.ExecServer != nil:
		if m.ExecServer.Event != nil {
			return fmt.Sprintf("ExecServer.Event(%s)", m.ExecServer.Event)
		}
		return "ExecServer.Finish"
	case m.Error != "":
		return fmt.Sprintf("Error(%q)", m.Error)
	case m.Debug != "":
		return fmt.Sprintf("Debug(%q)", m.Debug)
	}
	return "Message(empty)"
}

// DebugMessage wraps an informational string. Debug frames never alter
// protocol state on either side.
func DebugMessage(format string, args ...interface{}) Message {
	return Message{Debug: fmt.Sprintf(format, args...)}
}

// ErrorMessage wraps a fatal server-side error for the client.
func ErrorMessage(err error) Message {
	return Message{Error: err.Error()}
}
