// Package sync implements both roles of the project-sync protocol: the
// client walks the local project and pushes signature-based patches; the
// server answers with per-file status and applies what it receives.
package sync

import (
	"io/fs"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/protocol"
)

// IgnoreFileName is the per-directory ignore file honoured by the walker.
const IgnoreFileName = ".hpgignore"

// MetaDirName is the project metadata directory, never synced.
const MetaDirName = ".meta"

// deniedNames are excluded from every sync regardless of ignore rules.
var deniedNames = []string{
	IgnoreFileName,
	"inventory.yaml",
	"inventory.yml",
	"inventory.json",
}

type dirIgnore struct {
	// prefix is the slash-relative directory the rules were loaded from,
	// "" for the root.
	prefix  string
	matcher *ignore.GitIgnore
}

func (d dirIgnore) matches(rel string, isDir bool) bool {
	if d.prefix != "" {
		if !strings.HasPrefix(rel, d.prefix+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, d.prefix+"/")
	}
	if isDir {
		rel += "/"
	}
	return d.matcher.MatchesPath(rel)
}

func denied(name string) bool {
	for _, deny := range deniedNames {
		if strings.EqualFold(name, deny) {
			return true
		}
	}
	return false
}

// Walk enumerates the project under root as sync entries: one Dir entry per
// directory and one File entry per regular file, with slash-separated paths
// relative to root. Per-directory .hpgignore files apply with the usual
// gitignore semantics; the metadata directory, ignore files, and inventory
// files are always excluded. Symlinks and special files are not synced.
func Walk(root string) ([]protocol.LocalFile, error) {
	var files []protocol.LocalFile
	var ignores []dirIgnore

	var err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		var rel, relErr = filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			if m, igErr := ignore.CompileIgnoreFile(filepath.Join(path, IgnoreFileName)); igErr == nil {
				ignores = append(ignores, dirIgnore{matcher: m})
			}
			return nil
		}

		var name = d.Name()
		if d.IsDir() {
			if strings.EqualFold(name, MetaDirName) {
				return filepath.SkipDir
			}
			for _, ig := range ignores {
				if ig.matches(rel, true) {
					return filepath.SkipDir
				}
			}
			if m, igErr := ignore.CompileIgnoreFile(filepath.Join(path, IgnoreFileName)); igErr == nil {
				ignores = append(ignores, dirIgnore{prefix: rel, matcher: m})
			}
			files = append(files, protocol.LocalFile{Kind: protocol.KindDir, RelPath: rel})
			return nil
		}

		if denied(name) || !d.Type().IsRegular() {
			return nil
		}
		for _, ig := range ignores {
			if ig.matches(rel, false) {
				return nil
			}
		}
		files = append(files, protocol.LocalFile{Kind: protocol.KindFile, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Io, err, "walking project %s", root)
	}

	log.WithFields(log.Fields{"root": root, "entries": len(files)}).Debug("walked project")
	return files, nil
}
