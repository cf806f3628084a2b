package sync

import (
	"path"
	"path/filepath"
	"strings"
)

// SyncPath is a file's path relative to the sync root. It is the join key
// between the remote listing, the local tree and the manifest, so it is
// always normalized: forward slashes, no leading slash, no "./" segments.
type SyncPath string

func NewSyncPath(p string) SyncPath {
	return SyncPath(NormPath(p))
}

// NormPath normalizes a relative path. The root itself normalizes to "".
func NormPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimLeft(p, "/")
}

func (p SyncPath) String() string {
	return string(p)
}

// OSPath returns the absolute local path of p below root.
func (p SyncPath) OSPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}
