package sync

import "time"

// FileRecord is one remote file observed during a run.
type FileRecord struct {
	RelPath    SyncPath
	RemotePath string // absolute path on the remote store
	RemoteETag string // normalized version tag

	// LocalETag is the tag recorded in the manifest at the last successful
	// sync. It is only set when the file is also present on disk.
	LocalETag string
	HasLocal  bool

	Root         string // remote root that produced the record
	Size         int64
	LastModified time.Time
}

// NeedsDownload reports whether the local copy is missing or stale. Tags are
// opaque, only equality is meaningful.
func (r *FileRecord) NeedsDownload() bool {
	return !r.HasLocal || r.LocalETag != r.RemoteETag
}
