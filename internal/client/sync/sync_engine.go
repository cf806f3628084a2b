package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmined/davsync/internal/client/config"
	"github.com/openmined/davsync/internal/davsdk"
	"github.com/openmined/davsync/internal/utils"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	StageRemote   = "remote"
	StageLocal    = "local"
	StageDownload = "download"
	StageCleanup  = "cleanup"
	StageManifest = "manifest"
)

var (
	ErrTooManyDeletes = errors.New("planned deletions exceed the configured limit")
)

// RemoteStore is the read side of a remote file tree.
type RemoteStore interface {
	RootPath(remotePath string) string
	ListRecursive(ctx context.Context, root string) iter.Seq2[*davsdk.Entry, error]
	Download(ctx context.Context, remotePath string, w io.Writer) (int64, error)
}

// SyncReport summarizes a run.
type SyncReport struct {
	DryRun     bool
	Remote     int
	Downloads  int
	UpToDate   int
	Deletes    int
	PrunedDirs int
	Collisions int
	Ignored    int
	Bytes      int64
	Duration   time.Duration
}

// SyncEngine mirrors one or more remote roots into a local directory.
type SyncEngine struct {
	cfg        *config.Config
	remote     RemoteStore
	fs         afero.Fs
	ignoreList *SyncIgnoreList
	exclusions mapset.Set[SyncPath]
	workers    int
}

func NewSyncEngine(cfg *config.Config, remote RemoteStore, afs afero.Fs) (*SyncEngine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if remote == nil {
		return nil, errors.New("remote store is required")
	}
	if afs == nil {
		afs = afero.NewOsFs()
	}

	// the manifest is never a sync target when it lives inside the tree
	exclusions := mapset.NewThreadUnsafeSet[SyncPath]()
	if rel, ok := utils.RelWithin(cfg.LocalPath, cfg.LockFile); ok {
		exclusions.Add(NewSyncPath(rel))
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = config.DefaultWorkers
	}

	return &SyncEngine{
		cfg:        cfg,
		workers:    workers,
		remote:     remote,
		fs:         afs,
		ignoreList: NewSyncIgnoreList(afs, cfg.LocalPath),
		exclusions: exclusions,
	}, nil
}

// Run performs a complete sync. Stages run strictly in order and the first
// error aborts the run. The manifest is only written when every stage
// succeeded, so a failed run can be repeated safely.
func (se *SyncEngine) Run(ctx context.Context) (*SyncReport, error) {
	tStart := time.Now()
	report := &SyncReport{DryRun: se.cfg.DryRun}

	if err := se.ignoreList.Load(); err != nil {
		return nil, err
	}

	slog.Info("gathering remote state", "stage", StageRemote, "roots", len(se.cfg.RemotePaths))
	listings, err := se.listRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote: %w", err)
	}
	target := BuildTargetState(listings)
	report.Remote = target.Len()
	report.Collisions = len(target.Collisions)

	slog.Info("gathering local state", "stage", StageLocal, "path", se.cfg.LocalPath)
	local, err := ScanLocal(se.fs, se.cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("scan local state: %w", err)
	}
	manifest, err := LoadManifest(se.fs, se.cfg.LockFile)
	if err != nil {
		return nil, err
	}

	ws := Annotate(target, local, manifest)
	ops := Plan(ws, local, se.exclusions, se.ignoreList)
	report.UpToDate = len(ops.UpToDate)
	report.Ignored = len(ops.Ignored)
	for _, op := range sortedOps(ops.UpToDate) {
		slog.Debug("sync", "op", OpUpToDate, "path", op.RelPath)
	}

	slog.Debug("reconcile decisions",
		"remote", target.Len(),
		"local", len(local),
		"manifest", len(manifest),
		"downloads", len(ops.Downloads),
		"deletes", len(ops.LocalDeletes),
		"ignored", len(ops.Ignored),
	)

	if se.cfg.MaxDeletes > 0 && len(ops.LocalDeletes) > se.cfg.MaxDeletes {
		return nil, fmt.Errorf("%w: %d planned, limit %d", ErrTooManyDeletes, len(ops.LocalDeletes), se.cfg.MaxDeletes)
	}

	if !se.cfg.DryRun {
		if err := se.fs.MkdirAll(se.cfg.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create local root %q: %w", se.cfg.LocalPath, err)
		}
	}

	cleared := 0
	if !se.cfg.DryRun {
		cleared, err = ClearBlockers(se.fs, se.cfg.LocalPath, ops.Downloads, ops.LocalDeletes)
		if err != nil {
			return nil, fmt.Errorf("cleanup: %w", err)
		}
	}

	slog.Info("downloading files", "stage", StageDownload, "count", len(ops.Downloads))
	bytes, err := se.DownloadFiles(ctx, ops.Downloads)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	report.Downloads = len(ops.Downloads)
	report.Bytes = bytes

	slog.Info("removing stale files", "stage", StageCleanup, "count", len(ops.LocalDeletes))
	deleted, err := DeleteStale(se.fs, ops.LocalDeletes, se.cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	report.Deletes = cleared + deleted

	if !se.cfg.DryRun {
		pruned, err := PruneEmptyDirs(se.fs, se.cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("cleanup: %w", err)
		}
		report.PrunedDirs = pruned
	}

	if se.cfg.DryRun {
		slog.Info("dry run, manifest not written", "stage", StageManifest, "path", se.cfg.LockFile)
	} else {
		slog.Info("writing manifest", "stage", StageManifest, "path", se.cfg.LockFile)
		if err := SaveManifest(se.fs, se.cfg.LockFile, ops.Manifest()); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(tStart)
	slog.Info("sync complete",
		"downloads", report.Downloads,
		"unchanged", report.UpToDate,
		"deletes", report.Deletes,
		"pruned", report.PrunedDirs,
		"collisions", report.Collisions,
		"ignored", report.Ignored,
		"bytes", humanize.Bytes(uint64(report.Bytes)),
		"dryRun", report.DryRun,
		"tsTotal", report.Duration,
	)
	return report, nil
}

// listRemote lists every root concurrently into its own slot. The slots are
// merged afterwards in configuration order, which keeps collision handling
// deterministic.
func (se *SyncEngine) listRemote(ctx context.Context) ([]*RootListing, error) {
	listings := make([]*RootListing, len(se.cfg.RemotePaths))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(se.workers)
	for i, remotePath := range se.cfg.RemotePaths {
		eg.Go(func() error {
			listing, err := se.listRoot(egCtx, remotePath)
			if err != nil {
				return fmt.Errorf("root %q: %w", remotePath, err)
			}
			listings[i] = listing
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return listings, nil
}

func (se *SyncEngine) listRoot(ctx context.Context, remotePath string) (*RootListing, error) {
	root := se.remote.RootPath(remotePath)
	listing := &RootListing{Root: remotePath}

	for entry, err := range se.remote.ListRecursive(ctx, root) {
		if err != nil {
			return nil, err
		}
		rel := NewSyncPath(entry.RelPath(root))
		if rel == "" {
			continue
		}
		listing.Records = append(listing.Records, &FileRecord{
			RelPath:      rel,
			RemotePath:   entry.Path,
			RemoteETag:   entry.ETag,
			Root:         remotePath,
			Size:         entry.Size,
			LastModified: entry.LastModified,
		})
	}

	slog.Debug("listed remote root", "root", remotePath, "files", len(listing.Records))
	return listing, nil
}
