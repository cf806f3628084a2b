package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var ErrCorruptManifest = errors.New("corrupt manifest")

// Manifest records the tag of every file as of the last successful sync.
type Manifest map[SyncPath]string

// LoadManifest reads the manifest at path. A missing file is an empty manifest.
func LoadManifest(afs afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(afs, path)
	if errors.Is(err, os.ErrNotExist) {
		return make(Manifest), nil
	} else if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrCorruptManifest, path, err)
	}

	m := make(Manifest, len(raw))
	for k, v := range raw {
		m[NewSyncPath(k)] = v
	}
	return m, nil
}

// SaveManifest replaces the manifest at path. The content goes to a temporary
// file in the same directory first, so a crash leaves either the old or the
// new manifest in place.
func SaveManifest(afs afero.Fs, path string, m Manifest) error {
	raw := make(map[string]string, len(m))
	for k, v := range m {
		raw[k.String()] = v
	}

	// map keys are marshalled in sorted order
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := afs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest directory %q: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := afero.WriteFile(afs, tmp, data, 0o644); err != nil {
		_ = afs.Remove(tmp)
		return fmt.Errorf("write manifest %q: %w", tmp, err)
	}
	if err := afs.Rename(tmp, path); err != nil {
		_ = afs.Remove(tmp)
		return fmt.Errorf("replace manifest %q: %w", path, err)
	}
	return nil
}
