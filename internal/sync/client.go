package sync

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/protocol"
	"github.com/hpgtool/hpg/internal/rsync"
	"github.com/hpgtool/hpg/internal/tracker"
)

// Client drives the client role of the sync conversation over bus: send the
// file list, answer the server's per-file status with full or delta
// patches, await acknowledgements for every patch sent, then Close.
//
// Patches may be acknowledged in any order; the outstanding set is keyed by
// relative path.
func Client(bus *protocol.Bus, root string, events *tracker.Source) error {
	var files, err = Walk(root)
	if err != nil {
		return err
	}
	if err = bus.Send(protocol.Message{SyncClient: &protocol.SyncClientMessage{
		FileList: &protocol.FileListMessage{Entries: files},
	}}); err != nil {
		return err
	}

	var status []protocol.FileInfo
	var gotStatus = false
	for !gotStatus {
		var msg protocol.Message
		if msg, err = bus.Receive(0); err != nil {
			return err
		}
		switch {
		case msg.SyncServer != nil && msg.SyncServer.FileStatus != nil:
			status = msg.SyncServer.FileStatus.Entries
			gotStatus = true
		case msg.Debug != "":
			events.Debug("REMOTE: %s", msg.Debug)
		case msg.Error != "":
			return hpgerr.New(hpgerr.Io, "remote: %s", msg.Error)
		default:
			return hpgerr.New(hpgerr.Protocol, "out-of-order frame %s: expected FileStatus", msg)
		}
	}

	var outstanding = make(map[string]struct{})
	for _, info := range status {
		var patch *protocol.FilePatch
		if patch, err = buildPatch(root, info, events); err != nil {
			return err
		}
		if patch == nil {
			continue
		}
		outstanding[info.RelPath] = struct{}{}
		if err = bus.Send(protocol.Message{SyncClient: &protocol.SyncClientMessage{Patch: patch}}); err != nil {
			return err
		}
	}

	events.Println("Sync Files")
	events.ProgressStart(len(outstanding))
	for len(outstanding) != 0 {
		var msg protocol.Message
		if msg, err = bus.Receive(0); err != nil {
			return err
		}
		switch {
		case msg.SyncServer != nil && msg.SyncServer.PatchApplied != "":
			delete(outstanding, msg.SyncServer.PatchApplied)
			events.ProgressInc("Applied: " + msg.SyncServer.PatchApplied)
		case msg.Debug != "":
			events.Debug("REMOTE: %s", msg.Debug)
		case msg.Error != "":
			return hpgerr.New(hpgerr.Io, "remote: %s", msg.Error)
		default:
			return hpgerr.New(hpgerr.Protocol, "out-of-order frame %s: expected PatchApplied", msg)
		}
	}

	if err = bus.Send(protocol.Message{SyncClient: &protocol.SyncClientMessage{Close: true}}); err != nil {
		return err
	}
	events.ProgressFinish("Sync complete.")
	return nil
}

// buildPatch decides what, if anything, to send for one file: nothing when
// signatures match, a delta when the server has an older copy, or the full
// contents when the server has none.
func buildPatch(root string, info protocol.FileInfo, events *tracker.Source) (*protocol.FilePatch, error) {
	var full = filepath.Join(root, filepath.FromSlash(info.RelPath))
	var contents, err = os.ReadFile(full)
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Io, err, "reading %s", full)
	}

	if info.Status.Present != nil {
		var localSig = rsync.Sum(contents).Marshal()
		if rsync.SigsEqual(info.Status.Present.Sig, localSig) {
			events.Debug("signatures matched for %s", info.RelPath)
			return nil, nil
		}
		var remoteSig *rsync.Signature
		if remoteSig, err = rsync.ParseSignature(info.Status.Present.Sig); err != nil {
			return nil, hpgerr.Wrap(hpgerr.Protocol, err, "signature for %s", info.RelPath)
		}
		log.WithField("path", info.RelPath).Debug("building delta patch")
		return &protocol.FilePatch{
			RelPath: info.RelPath,
			Patch:   protocol.PatchData{Partial: &protocol.PartialPatch{Delta: rsync.Delta(remoteSig, contents)}},
		}, nil
	}

	log.WithField("path", info.RelPath).Debug("building full patch")
	return &protocol.FilePatch{
		RelPath: info.RelPath,
		Patch:   protocol.PatchData{Full: &protocol.FullPatch{Contents: contents}},
	}, nil
}
