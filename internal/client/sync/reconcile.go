package sync

import (
	"cmp"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

type OpType string

const (
	OpDownload    OpType = "Download"
	OpUpToDate    OpType = "UpToDate"
	OpDeleteLocal OpType = "DeleteLocal"
	OpPruneDir    OpType = "PruneDir"
	OpIgnored     OpType = "Ignored"
)

type SyncOperation struct {
	Type      OpType
	RelPath   SyncPath
	LocalPath string
	Record    *FileRecord // nil for local deletes and ignored local files
}

// RootListing is the complete file listing of one remote root.
type RootListing struct {
	Root    string
	Records []*FileRecord
}

// Collision is a relative path produced by more than one remote root.
type Collision struct {
	Path   SyncPath
	Loser  string
	Winner string
}

// TargetState is the merged remote view. It is not modified after BuildTargetState returns.
type TargetState struct {
	records    map[SyncPath]*FileRecord
	Collisions []Collision
}

// BuildTargetState merges the listings in order. When two roots produce the
// same relative path the later root wins and a warning is logged.
func BuildTargetState(roots []*RootListing) *TargetState {
	ts := &TargetState{records: make(map[SyncPath]*FileRecord)}
	for _, listing := range roots {
		for _, rec := range listing.Records {
			if prev, ok := ts.records[rec.RelPath]; ok {
				slog.Warn("path present in multiple remote roots",
					"path", rec.RelPath, "ignored", prev.RemotePath, "using", rec.RemotePath)
				ts.Collisions = append(ts.Collisions, Collision{
					Path:   rec.RelPath,
					Loser:  prev.Root,
					Winner: rec.Root,
				})
			}
			ts.records[rec.RelPath] = rec
		}
	}
	return ts
}

func (ts *TargetState) Len() int {
	return len(ts.records)
}

func (ts *TargetState) Get(p SyncPath) (*FileRecord, bool) {
	rec, ok := ts.records[p]
	return rec, ok
}

// WorkingSet is the target state annotated with local knowledge.
type WorkingSet struct {
	records map[SyncPath]*FileRecord
}

// Annotate copies the target state and fills in the manifest tag of every
// record that is also present on disk. Paths only known locally or only
// known to the manifest are not sync targets.
func Annotate(target *TargetState, local LocalState, manifest Manifest) *WorkingSet {
	ws := &WorkingSet{records: make(map[SyncPath]*FileRecord, len(target.records))}
	for p, rec := range target.records {
		annotated := *rec
		if _, onDisk := local[p]; onDisk {
			if tag, known := manifest[p]; known {
				annotated.LocalETag = tag
				annotated.HasLocal = true
			}
		}
		ws.records[p] = &annotated
	}
	return ws
}

func (ws *WorkingSet) Len() int {
	return len(ws.records)
}

func (ws *WorkingSet) Get(p SyncPath) (*FileRecord, bool) {
	rec, ok := ws.records[p]
	return rec, ok
}

// Paths returns the working set paths in sorted order.
func (ws *WorkingSet) Paths() []SyncPath {
	paths := make([]SyncPath, 0, len(ws.records))
	for p := range ws.records {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// NeedsDownload is the download decision for a single record.
func NeedsDownload(rec *FileRecord) bool {
	return rec.NeedsDownload()
}

// BatchDownload holds records that are missing locally or carry a new tag.
type BatchDownload map[SyncPath]*SyncOperation

// BatchUpToDate holds records whose manifest tag matches the remote tag.
type BatchUpToDate map[SyncPath]*SyncOperation

// BatchLocalDelete holds local files no longer present on any remote root.
type BatchLocalDelete map[SyncPath]*SyncOperation

// BatchIgnored holds paths skipped because of ignore rules or exclusions.
type BatchIgnored map[SyncPath]*SyncOperation

// ReconcileOperations is the per file outcome of a reconcile.
type ReconcileOperations struct {
	Downloads    BatchDownload
	UpToDate     BatchUpToDate
	LocalDeletes BatchLocalDelete
	Ignored      BatchIgnored
}

func NewReconcileOperations() *ReconcileOperations {
	return &ReconcileOperations{
		Downloads:    make(BatchDownload),
		UpToDate:     make(BatchUpToDate),
		LocalDeletes: make(BatchLocalDelete),
		Ignored:      make(BatchIgnored),
	}
}

// HasChanges returns true if the run has anything to download or delete.
func (r *ReconcileOperations) HasChanges() bool {
	return len(r.Downloads) > 0 || len(r.LocalDeletes) > 0
}

// Manifest returns the manifest describing the local tree once every
// download has succeeded.
func (r *ReconcileOperations) Manifest() Manifest {
	m := make(Manifest, len(r.Downloads)+len(r.UpToDate))
	for p, op := range r.Downloads {
		m[p] = op.Record.RemoteETag
	}
	for p, op := range r.UpToDate {
		m[p] = op.Record.RemoteETag
	}
	return m
}

// Plan decides the fate of every path. Exclusions are matched by exact path;
// ignore may be nil.
func Plan(ws *WorkingSet, local LocalState, exclusions mapset.Set[SyncPath], ignore *SyncIgnoreList) *ReconcileOperations {
	ops := NewReconcileOperations()

	skip := func(p SyncPath) bool {
		if exclusions != nil && exclusions.Contains(p) {
			return true
		}
		return ignore != nil && ignore.ShouldIgnore(p)
	}

	for p, rec := range ws.records {
		op := &SyncOperation{RelPath: p, Record: rec, LocalPath: local[p]}
		switch {
		case skip(p):
			op.Type = OpIgnored
			ops.Ignored[p] = op
		case rec.NeedsDownload():
			op.Type = OpDownload
			ops.Downloads[p] = op
		default:
			op.Type = OpUpToDate
			ops.UpToDate[p] = op
		}
	}

	for p, abs := range local {
		if _, ok := ws.records[p]; ok {
			continue
		}
		op := &SyncOperation{RelPath: p, LocalPath: abs}
		if skip(p) {
			op.Type = OpIgnored
			ops.Ignored[p] = op
			continue
		}
		op.Type = OpDeleteLocal
		ops.LocalDeletes[p] = op
	}

	return ops
}

// sortedOps returns the operations of a batch ordered by path.
func sortedOps(batch map[SyncPath]*SyncOperation) []*SyncOperation {
	ops := make([]*SyncOperation, 0, len(batch))
	for _, op := range batch {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b *SyncOperation) int {
		return cmp.Compare(a.RelPath, b.RelPath)
	})
	return ops
}
