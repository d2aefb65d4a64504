package sync

import (
	"errors"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/protocol"
	"github.com/hpgtool/hpg/internal/rsync"
)

// tempSuffix marks the sibling file a partial patch is applied into before
// it atomically replaces the original.
const tempSuffix = ".hpg-sync"

// Serve drives the server role of the sync conversation over bus until the
// client Closes. Local I/O failures are reported to the client as Error
// frames before being returned.
func Serve(bus *protocol.Bus, root string) error {
	for {
		var msg, err = bus.Receive(0)
		if err != nil {
			if errors.Is(err, hpgerr.ErrEndOfStream) {
				return nil
			}
			return err
		}
		if msg.SyncClient == nil {
			continue
		}

		switch {
		case msg.SyncClient.FileList != nil:
			var info []protocol.FileInfo
			if info, err = checkTree(root, msg.SyncClient.FileList.Entries); err != nil {
				break
			}
			if err = bus.Send(protocol.Message{SyncServer: &protocol.SyncServerMessage{
				FileStatus: &protocol.FileStatusMessage{Entries: info},
			}}); err != nil {
				return err
			}
			err = bus.Send(protocol.DebugMessage("sent file status"))
		case msg.SyncClient.Patch != nil:
			var p = msg.SyncClient.Patch
			if err = applyPatch(root, p); err != nil {
				break
			}
			err = bus.Send(protocol.Message{SyncServer: &protocol.SyncServerMessage{PatchApplied: p.RelPath}})
		case msg.SyncClient.Close:
			return nil
		}

		if err != nil {
			if sendErr := bus.Send(protocol.ErrorMessage(err)); sendErr != nil {
				return sendErr
			}
			return err
		}
	}
}

// securePath resolves rel under root, rejecting absolute paths and parent
// traversal so no patch can escape the server's root directory.
func securePath(root, rel string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", hpgerr.New(hpgerr.Protocol, "path escapes sync root: %q", rel)
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// checkTree creates missing directories and reports per-file status: the
// signature of each present file, or Absent.
func checkTree(root string, list []protocol.LocalFile) ([]protocol.FileInfo, error) {
	var out []protocol.FileInfo
	for _, entry := range list {
		var path, err = securePath(root, entry.RelPath)
		if err != nil {
			return nil, err
		}
		switch entry.Kind {
		case protocol.KindDir:
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				if err = os.MkdirAll(path, 0o755); err != nil {
					return nil, hpgerr.Wrap(hpgerr.Io, err, "creating %s", path)
				}
			}
		case protocol.KindFile:
			var contents []byte
			contents, err = os.ReadFile(path)
			if os.IsNotExist(err) {
				out = append(out, protocol.FileInfo{RelPath: entry.RelPath, Status: protocol.FileState{Absent: true}})
				continue
			} else if err != nil {
				return nil, hpgerr.Wrap(hpgerr.Io, err, "reading %s", path)
			}
			out = append(out, protocol.FileInfo{
				RelPath: entry.RelPath,
				Status:  protocol.FileState{Present: &protocol.PresentFile{Sig: rsync.Sum(contents).Marshal()}},
			})
		}
	}
	return out, nil
}

// applyPatch writes a full file, or applies a delta into a sibling temp
// file and atomically replaces the original.
func applyPatch(root string, p *protocol.FilePatch) error {
	var path, err = securePath(root, p.RelPath)
	if err != nil {
		return err
	}
	log.WithField("path", path).Debug("applying patch")

	switch {
	case p.Patch.Full != nil:
		if err = os.WriteFile(path, p.Patch.Full.Contents, 0o644); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "writing %s", path)
		}
	case p.Patch.Partial != nil:
		var base []byte
		if base, err = os.ReadFile(path); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "reading %s", path)
		}
		var patched []byte
		if patched, err = rsync.Apply(base, p.Patch.Partial.Delta); err != nil {
			return hpgerr.Wrap(hpgerr.Protocol, err, "applying delta for %s", p.RelPath)
		}
		var temp = path + tempSuffix
		if err = os.WriteFile(temp, patched, 0o644); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "writing %s", temp)
		}
		if err = os.Remove(path); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "removing %s", path)
		}
		if err = os.Rename(temp, path); err != nil {
			return hpgerr.Wrap(hpgerr.Io, err, "renaming %s", temp)
		}
	default:
		return hpgerr.New(hpgerr.Protocol, "patch for %s has no body", p.RelPath)
	}
	return nil
}
