package sync

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/davsync/internal/client/config"
	"github.com/openmined/davsync/internal/davsdk"
	"github.com/openmined/davsync/internal/davsdk/davtest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	srv   *davtest.Server
	cfg   *config.Config
	local string
}

func newFixture(t *testing.T, remotePaths ...string) *engineFixture {
	t.Helper()
	if len(remotePaths) == 0 {
		remotePaths = []string{"Docs"}
	}
	srv := davtest.NewServer(t, "alice", "secret")
	local := filepath.Join(t.TempDir(), "mirror")
	return &engineFixture{
		srv:   srv,
		local: local,
		cfg: &config.Config{
			RemoteURL:   srv.URL,
			User:        "alice",
			Password:    "secret",
			RemotePaths: remotePaths,
			LocalPath:   local,
			Workers:     2,
		},
	}
}

func (f *engineFixture) run(t *testing.T) (*SyncReport, error) {
	t.Helper()
	require.NoError(t, f.cfg.Validate())

	client, err := davsdk.New(f.cfg.DavConfig())
	require.NoError(t, err)

	engine, err := NewSyncEngine(f.cfg, client, afero.NewOsFs())
	require.NoError(t, err)

	return engine.Run(context.Background())
}

func (f *engineFixture) mustRun(t *testing.T) *SyncReport {
	t.Helper()
	report, err := f.run(t)
	require.NoError(t, err)
	return report
}

func (f *engineFixture) path(rel string) string {
	return filepath.Join(f.local, filepath.FromSlash(rel))
}

func (f *engineFixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(f.path(rel))
	require.NoError(t, err)
	return string(data)
}

func (f *engineFixture) exists(rel string) bool {
	_, err := os.Lstat(f.path(rel))
	return err == nil
}

func (f *engineFixture) manifest(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRunInitialSync(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "hello", `"e1"`)
	f.srv.Put("Docs/sub/b.txt", "world", `'e2'`)
	f.srv.Put("Docs/sub/deep/c d.txt", "spaced", `"e3"`)
	f.srv.Put("Other/ignored.txt", "not mine", `"e4"`)

	report := f.mustRun(t)

	assert.Equal(t, 3, report.Downloads)
	assert.Equal(t, 3, report.Remote)
	assert.Equal(t, int64(len("hello")+len("world")+len("spaced")), report.Bytes)
	assert.Equal(t, "hello", f.read(t, "a.txt"))
	assert.Equal(t, "world", f.read(t, "sub/b.txt"))
	assert.Equal(t, "spaced", f.read(t, "sub/deep/c d.txt"))
	assert.False(t, f.exists("ignored.txt"))

	assert.Equal(t, filepath.Join(f.local, config.DefaultLockFileName), f.cfg.LockFile)
	assert.Equal(t, map[string]string{
		"a.txt":            "e1",
		"sub/b.txt":        "e2",
		"sub/deep/c d.txt": "e3",
	}, f.manifest(t))
}

func TestRunIdempotent(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "hello", `"e1"`)
	f.srv.Put("Docs/sub/b.txt", "world", `"e2"`)

	f.mustRun(t)
	downloads := f.srv.Downloads()
	first, err := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, err)

	report := f.mustRun(t)
	assert.Zero(t, report.Downloads)
	assert.Zero(t, report.Deletes)
	assert.Equal(t, 2, report.UpToDate)
	assert.Equal(t, downloads, f.srv.Downloads())

	second, err := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRunTagDriven(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "v1", `"e1"`)
	f.mustRun(t)

	old := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(f.path("a.txt"), old, old))

	// new content under the same tag is not fetched
	f.srv.Put("Docs/a.txt", "v2", `"e1"`)
	report := f.mustRun(t)
	assert.Zero(t, report.Downloads)
	assert.Equal(t, "v1", f.read(t, "a.txt"))
	info, err := os.Stat(f.path("a.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))

	f.srv.Put("Docs/a.txt", "v3", `"e2"`)
	report = f.mustRun(t)
	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, "v3", f.read(t, "a.txt"))
	assert.Equal(t, map[string]string{"a.txt": "e2"}, f.manifest(t))
}

func TestRunNewFile(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.mustRun(t)

	f.srv.Put("Docs/new/b.txt", "b", `"e2"`)
	report := f.mustRun(t)

	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, 1, report.UpToDate)
	assert.Equal(t, "b", f.read(t, "new/b.txt"))
	assert.Equal(t, map[string]string{"a.txt": "e1", "new/b.txt": "e2"}, f.manifest(t))
}

func TestRunDeletionAndPrune(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/x/y/z.txt", "z", `"e2"`)
	f.mustRun(t)
	require.True(t, f.exists("x/y/z.txt"))

	f.srv.Remove("Docs/x/y/z.txt")
	report := f.mustRun(t)

	assert.Equal(t, 1, report.Deletes)
	assert.Equal(t, 2, report.PrunedDirs)
	assert.False(t, f.exists("x"))
	assert.True(t, f.exists("a.txt"))
	assert.True(t, f.exists(config.DefaultLockFileName))
	assert.Equal(t, map[string]string{"a.txt": "e1"}, f.manifest(t))
}

func TestRunFileBecomesDirectory(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/x", "old file", `"e1"`)
	f.mustRun(t)
	require.Equal(t, "old file", f.read(t, "x"))

	f.srv.Remove("Docs/x")
	f.srv.Put("Docs/x/y", "new file", `"e2"`)
	report := f.mustRun(t)

	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, 1, report.Deletes)
	assert.Equal(t, "new file", f.read(t, "x/y"))
	assert.Equal(t, map[string]string{"x/y": "e2"}, f.manifest(t))
}

func TestRunDirectoryBecomesFile(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/x/y/z.txt", "z", `"e1"`)
	f.srv.Put("Docs/x/w.txt", "w", `"e2"`)
	f.mustRun(t)
	require.True(t, f.exists("x/y/z.txt"))

	f.srv.Remove("Docs/x/y/z.txt")
	f.srv.Remove("Docs/x/w.txt")
	f.srv.Put("Docs/x", "now a file", `"e3"`)
	report := f.mustRun(t)

	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, 2, report.Deletes)
	assert.Equal(t, "now a file", f.read(t, "x"))
	assert.Equal(t, map[string]string{"x": "e3"}, f.manifest(t))

	report = f.mustRun(t)
	assert.Zero(t, report.Downloads)
	assert.Equal(t, 1, report.UpToDate)
}

func TestRunLogsUpToDateFiles(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/b.txt", "b", `"e2"`)
	f.mustRun(t)

	var out bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	report := f.mustRun(t)
	assert.Equal(t, 2, report.UpToDate)

	logs := out.String()
	assert.Contains(t, logs, "op=UpToDate path=a.txt")
	assert.Contains(t, logs, "op=UpToDate path=b.txt")
}

func TestRunRemovesLocalOnlyFiles(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	writeFile(t, afero.NewOsFs(), f.path("stray.txt"), "stray")
	writeFile(t, afero.NewOsFs(), f.path("junk/old.txt"), "old")

	report := f.mustRun(t)

	assert.Equal(t, 2, report.Deletes)
	assert.False(t, f.exists("stray.txt"))
	assert.False(t, f.exists("junk"))
	assert.True(t, f.exists("a.txt"))
}

func TestRunOverwritesUnknownLocalFile(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "remote", `"e1"`)
	writeFile(t, afero.NewOsFs(), f.path("a.txt"), "local edit")

	report := f.mustRun(t)
	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, "remote", f.read(t, "a.txt"))
}

func TestRunMultiRootCollision(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.srv.Put("A/x.txt", "from a", `"a1"`)
	f.srv.Put("A/only-a.txt", "a", `"a2"`)
	f.srv.Put("B/x.txt", "from b", `"b1"`)

	report := f.mustRun(t)

	assert.Equal(t, 1, report.Collisions)
	assert.Equal(t, "from b", f.read(t, "x.txt"))
	assert.Equal(t, "a", f.read(t, "only-a.txt"))
	assert.Equal(t, map[string]string{"x.txt": "b1", "only-a.txt": "a2"}, f.manifest(t))
}

func TestRunListingFailureLeavesLocalUntouched(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/sub/b.txt", "b", `"e2"`)
	f.mustRun(t)
	before, err := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, err)

	f.srv.Put("Docs/c.txt", "c", `"e3"`)
	f.srv.Fail("Docs/sub", http.StatusInternalServerError)

	_, err = f.run(t)
	require.Error(t, err)

	var statusErr *davsdk.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.False(t, f.exists("c.txt"))
	assert.True(t, f.exists("sub/b.txt"))
	after, err := os.ReadFile(f.cfg.LockFile)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRunMissingRoot(t *testing.T) {
	f := newFixture(t, "Nope")

	_, err := f.run(t)
	require.ErrorIs(t, err, davsdk.ErrNotFound)
	assert.False(t, f.exists(""))
}

func TestRunDownloadFailureSkipsManifest(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/b.txt", "b", `"e2"`)
	f.srv.Fail("Docs/b.txt", http.StatusServiceUnavailable)

	_, err := f.run(t)
	require.Error(t, err)

	assert.False(t, f.exists(config.DefaultLockFileName))
	assert.False(t, f.exists("b.txt"))

	entries, err := os.ReadDir(f.local)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), partialSuffix), e.Name())
	}
}

func TestRunMaxDeletes(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxDeletes = 2
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	for _, name := range []string{"x.txt", "y.txt", "z.txt"} {
		writeFile(t, afero.NewOsFs(), f.path(name), name)
	}

	_, err := f.run(t)
	require.ErrorIs(t, err, ErrTooManyDeletes)

	for _, name := range []string{"x.txt", "y.txt", "z.txt"} {
		assert.True(t, f.exists(name), name)
	}
	assert.False(t, f.exists("a.txt"))
	assert.False(t, f.exists(config.DefaultLockFileName))
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.DryRun = true
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/sub/b.txt", "bb", `"e2"`)

	report := f.mustRun(t)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Downloads)
	assert.Equal(t, int64(3), report.Bytes)
	assert.Zero(t, f.srv.Downloads())
	assert.False(t, f.exists(""))
}

func TestRunDryRunKeepsStaleFiles(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.mustRun(t)
	writeFile(t, afero.NewOsFs(), f.path("stale/old.txt"), "old")

	f.cfg.DryRun = true
	report := f.mustRun(t)

	assert.Equal(t, 1, report.Deletes)
	assert.True(t, f.exists("stale/old.txt"))
}

func TestRunIgnoreRules(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/trace.log", "remote log", `"e2"`)
	writeFile(t, afero.NewOsFs(), f.path(IgnoreFileName), "*.log\n")
	writeFile(t, afero.NewOsFs(), f.path("local.log"), "local log")

	report := f.mustRun(t)

	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, 3, report.Ignored)
	assert.False(t, f.exists("trace.log"))
	assert.True(t, f.exists("local.log"))
	assert.True(t, f.exists(IgnoreFileName))
	assert.Equal(t, map[string]string{"a.txt": "e1"}, f.manifest(t))
}

func TestRunRemoteManifestNameIsExcluded(t *testing.T) {
	f := newFixture(t)
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	f.srv.Put("Docs/"+config.DefaultLockFileName, "not a manifest", `"e2"`)

	report := f.mustRun(t)

	assert.Equal(t, 1, report.Downloads)
	assert.Equal(t, map[string]string{"a.txt": "e1"}, f.manifest(t))
}

func TestRunLockFileOutsideRoot(t *testing.T) {
	f := newFixture(t)
	f.cfg.LockFile = filepath.Join(t.TempDir(), "state", "davsync.json")
	f.srv.Put("Docs/a.txt", "a", `"e1"`)
	writeFile(t, afero.NewOsFs(), f.path(config.DefaultLockFileName), "{}")

	f.mustRun(t)

	assert.Equal(t, map[string]string{"a.txt": "e1"}, f.manifest(t))
	// not the manifest, so treated like any other local-only file
	assert.False(t, f.exists(config.DefaultLockFileName))
}

func TestRunEmptyRemote(t *testing.T) {
	f := newFixture(t, "")
	report := f.mustRun(t)

	assert.Zero(t, report.Remote)
	assert.Empty(t, f.manifest(t))
}

func TestNewSyncEngineValidation(t *testing.T) {
	srv := davtest.NewServer(t, "alice", "secret")
	client, err := davsdk.New(&davsdk.Config{BaseURL: srv.URL, User: "alice", Password: "secret"})
	require.NoError(t, err)

	_, err = NewSyncEngine(nil, client, nil)
	assert.Error(t, err)

	_, err = NewSyncEngine(&config.Config{}, nil, nil)
	assert.Error(t, err)

	engine, err := NewSyncEngine(&config.Config{LocalPath: "/data", LockFile: "/data/.sync.lock"}, client, nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultWorkers, engine.workers)
	assert.True(t, engine.exclusions.Contains(".sync.lock"))
}
