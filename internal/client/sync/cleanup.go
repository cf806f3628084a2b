package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// DeleteStale removes the planned local deletions and returns how many files
// were removed. A file that is already gone counts as removed.
func DeleteStale(afs afero.Fs, batch BatchLocalDelete, dryRun bool) (int, error) {
	deleted := 0
	for _, op := range sortedOps(batch) {
		if dryRun {
			slog.Info("sync", "op", OpDeleteLocal, "status", "DryRun", "path", op.RelPath)
			deleted++
			continue
		}
		if err := afs.Remove(op.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return deleted, fmt.Errorf("delete %q: %w", op.LocalPath, err)
		}
		slog.Info("sync", "op", OpDeleteLocal, "status", "Completed", "path", op.RelPath)
		deleted++
	}
	return deleted, nil
}

// ClearBlockers removes planned deletions that stand in the way of a
// download because a path changed between file and directory. A stale file
// where a download needs a parent directory is removed, as is a stale
// directory where a download needs a file. Cleared entries are taken out of
// deletes and counted as removed. Anything in the way that is not a planned
// deletion stays, and the download fails on it.
func ClearBlockers(afs afero.Fs, root string, downloads BatchDownload, deletes BatchLocalDelete) (int, error) {
	cleared := 0
	remove := func(op *SyncOperation) error {
		if err := afs.Remove(op.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %q: %w", op.LocalPath, err)
		}
		slog.Info("sync", "op", OpDeleteLocal, "status", "Completed", "path", op.RelPath)
		delete(deletes, op.RelPath)
		cleared++
		return nil
	}

	for _, dl := range sortedOps(downloads) {
		for dir := path.Dir(string(dl.RelPath)); dir != "."; dir = path.Dir(dir) {
			if op, ok := deletes[SyncPath(dir)]; ok {
				if err := remove(op); err != nil {
					return cleared, err
				}
			}
		}

		dir := dl.RelPath.OSPath(root)
		if isDir, _ := afero.DirExists(afs, dir); !isDir {
			continue
		}
		prefix := string(dl.RelPath) + "/"
		var inside []*SyncOperation
		for _, op := range sortedOps(deletes) {
			if strings.HasPrefix(string(op.RelPath), prefix) {
				inside = append(inside, op)
			}
		}
		if len(inside) == 0 {
			continue
		}
		for _, op := range inside {
			if err := remove(op); err != nil {
				return cleared, err
			}
		}

		if _, err := PruneEmptyDirs(afs, dir); err != nil {
			return cleared, err
		}
		if empty, err := afero.IsEmpty(afs, dir); err != nil || !empty {
			continue
		}
		if err := afs.Remove(dir); err != nil {
			return cleared, fmt.Errorf("remove directory %q: %w", dir, err)
		}
		slog.Debug("sync", "op", OpPruneDir, "path", dir)
	}
	return cleared, nil
}

// PruneEmptyDirs removes every empty directory below root, deepest first, so
// that a chain of directories emptied by deletions disappears entirely. The
// root itself is never removed.
func PruneEmptyDirs(afs afero.Fs, root string) (int, error) {
	exists, err := afero.DirExists(afs, root)
	if err != nil || !exists {
		return 0, err
	}

	var dirs []string
	err = afero.Walk(afs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %q: %w", path, err)
		}
		if info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// walk order is pre-order, children come after their parent
	pruned := 0
	for _, dir := range slices.Backward(dirs) {
		empty, err := afero.IsEmpty(afs, dir)
		if err != nil {
			return pruned, fmt.Errorf("read directory %q: %w", dir, err)
		}
		if !empty {
			continue
		}
		if err := afs.Remove(dir); err != nil {
			return pruned, fmt.Errorf("remove directory %q: %w", dir, err)
		}
		slog.Debug("sync", "op", OpPruneDir, "path", dir)
		pruned++
	}
	return pruned, nil
}
