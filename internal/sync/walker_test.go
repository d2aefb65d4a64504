package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpgtool/hpg/internal/protocol"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, contents := range files {
		var path = filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
}

func walkPaths(t *testing.T, root string) map[string]protocol.FileKind {
	t.Helper()
	var entries, err = Walk(root)
	require.NoError(t, err)
	var out = make(map[string]protocol.FileKind, len(entries))
	for _, e := range entries {
		out[e.RelPath] = e.Kind
	}
	return out
}

func TestWalkEnumeratesDirsAndFiles(t *testing.T) {
	var root = t.TempDir()
	writeTree(t, root, map[string]string{
		"hpg.lua":       "-- script",
		"files/app.cfg": "cfg",
	})

	var got = walkPaths(t, root)
	require.Equal(t, map[string]protocol.FileKind{
		"hpg.lua":       protocol.KindFile,
		"files":         protocol.KindDir,
		"files/app.cfg": protocol.KindFile,
	}, got)
}

func TestWalkAlwaysExcludesMetaAndInventory(t *testing.T) {
	var root = t.TempDir()
	writeTree(t, root, map[string]string{
		"hpg.lua":           "-- script",
		".meta/defs.lua":    "defs",
		".hpgignore":        "*.log",
		"inventory.yaml":    "hosts: {}",
		"inventory.yml":     "hosts: {}",
		"inventory.json":    "{}",
		"Inventory.YAML":    "case insensitive",
		"build/run.log":     "ignored by rule",
		"build/artifact":    "kept",
	})

	var got = walkPaths(t, root)
	require.Equal(t, map[string]protocol.FileKind{
		"hpg.lua":        protocol.KindFile,
		"build":          protocol.KindDir,
		"build/artifact": protocol.KindFile,
	}, got)
}

func TestWalkHonoursNestedIgnoreFiles(t *testing.T) {
	var root = t.TempDir()
	writeTree(t, root, map[string]string{
		"hpg.lua":             "-- script",
		"vendor/.hpgignore":   "cache/\n*.tmp",
		"vendor/keep.txt":     "keep",
		"vendor/scratch.tmp":  "drop",
		"vendor/cache/x.bin":  "drop",
		"elsewhere/file.tmp":  "kept, rule is scoped to vendor/",
	})

	var got = walkPaths(t, root)
	require.Contains(t, got, "vendor/keep.txt")
	require.Contains(t, got, "elsewhere/file.tmp")
	require.NotContains(t, got, "vendor/scratch.tmp")
	require.NotContains(t, got, "vendor/cache")
	require.NotContains(t, got, "vendor/cache/x.bin")
	require.NotContains(t, got, "vendor/.hpgignore")
}

func TestWalkSkipsSymlinks(t *testing.T) {
	var root = t.TempDir()
	writeTree(t, root, map[string]string{"real.txt": "real"})
	require.NoError(t, os.Symlink(
		filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	var got = walkPaths(t, root)
	require.Contains(t, got, "real.txt")
	require.NotContains(t, got, "link.txt")
}
