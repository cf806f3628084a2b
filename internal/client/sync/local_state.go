package sync

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalState maps every file below the local root to its absolute path.
type LocalState map[SyncPath]string

// ScanLocal walks root and returns every non-directory entry. A missing root
// is an empty tree.
func ScanLocal(afs afero.Fs, root string) (LocalState, error) {
	state := make(LocalState)

	exists, err := afero.DirExists(afs, root)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", root, err)
	}
	if !exists {
		return state, nil
	}

	err = afero.Walk(afs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %q: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		state[NewSyncPath(filepath.ToSlash(rel))] = path
		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}
