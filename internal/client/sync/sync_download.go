package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const partialSuffix = ".part"

// DownloadFiles fetches every record of the batch with at most the configured number of
// transfers in flight. The first failure cancels the remaining transfers and
// is returned. It reports the number of bytes written.
func (se *SyncEngine) DownloadFiles(ctx context.Context, batch BatchDownload) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	var total atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(se.workers)
	for _, op := range sortedOps(batch) {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if se.cfg.DryRun {
				slog.Info("sync", "op", OpDownload, "status", "DryRun", "path", op.RelPath, "size", humanize.Bytes(uint64(op.Record.Size)))
				total.Add(op.Record.Size)
				return nil
			}

			n, err := se.downloadFile(egCtx, op)
			if err != nil {
				slog.Error("sync", "op", OpDownload, "status", "Error", "path", op.RelPath, "error", err)
				return err
			}
			total.Add(n)
			slog.Info("sync", "op", OpDownload, "status", "Completed", "path", op.RelPath, "etag", op.Record.RemoteETag, "size", humanize.Bytes(uint64(n)))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), nil
}

// downloadFile streams one file into a temporary sibling and renames it over
// the destination.
func (se *SyncEngine) downloadFile(ctx context.Context, op *SyncOperation) (int64, error) {
	target := op.RelPath.OSPath(se.cfg.LocalPath)
	dir := filepath.Dir(target)
	if err := se.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %q: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(target)+".davsync-"+uuid.NewString()+partialSuffix)
	f, err := se.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", tmp, err)
	}

	n, err := se.remote.Download(ctx, op.Record.RemotePath, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %q: %w", tmp, closeErr)
	}
	if err != nil {
		_ = se.fs.Remove(tmp)
		return 0, fmt.Errorf("fetch %q: %w", op.Record.RemotePath, err)
	}

	if err := se.fs.Rename(tmp, target); err != nil {
		_ = se.fs.Remove(tmp)
		return 0, fmt.Errorf("rename %q: %w", target, err)
	}
	return n, nil
}
