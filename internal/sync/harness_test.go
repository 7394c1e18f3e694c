package sync_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/config"
	"github.com/NindroidA/pluginator/internal/fetcher"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/state"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
	"github.com/NindroidA/pluginator/internal/testutil"
)

const (
	prodDir   = "/srv/prod/plugins"
	testDir   = "/srv/test/plugins"
	backupDir = "/srv/backups"
)

type fakeResolver struct {
	mu       sync.Mutex
	releases map[string]plugin.ResolvedVersion
	errs     map[string]error
	calls    map[string]int
}

func (f *fakeResolver) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[spec.Name]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err, ok := f.errs[spec.Name]; ok {
		return nil, err
	}

	rv, ok := f.releases[spec.Name]
	if !ok {
		return nil, plugin.NewSourceError(spec.Source, plugin.KindNotFound, "no release for %s", spec.Name)
	}

	rv.PluginName = spec.Name

	return &rv, nil
}

func (f *fakeResolver) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[name]
}

// stepClock returns a later instant on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(time.Minute)

	return c.t
}

type harness struct {
	t         *testing.T
	fs        afero.Fs
	srv       *httptest.Server
	artifacts map[string][]byte
	downloads atomic.Int32
	resolver  *fakeResolver
	backups   *backup.Manager
	store     *state.Store
	cfg       *config.Resolved
}

func newHarness(t *testing.T, specs ...plugin.Spec) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		fs:        afero.NewMemMapFs(),
		artifacts: make(map[string][]byte),
		resolver: &fakeResolver{
			releases: make(map[string]plugin.ResolvedVersion),
			errs:     make(map[string]error),
			calls:    make(map[string]int),
		},
	}

	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.downloads.Add(1)

		body, ok := h.artifacts[r.URL.Path]
		if !ok {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/java-archive")
		_, _ = w.Write(body)
	}))
	t.Cleanup(h.srv.Close)

	clock := &stepClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	var err error

	h.backups, err = backup.New(backup.Opts{Fs: h.fs, Dir: backupDir, Compression: backup.CompressionZstd, Now: clock.now})
	require.NoError(t, err)

	h.store = state.New(state.Opts{Fs: h.fs, Dir: prodDir, Path: "/srv/data/plugin_versions.yaml"})

	h.cfg = &config.Resolved{
		ProdDir:          prodDir,
		TestDir:          testDir,
		BackupDir:        backupDir,
		MaxBackups:       3,
		ResolveWorkers:   4,
		DownloadThreads:  2,
		MaxDownloadBytes: 10 << 20,
		Plugins:          specs,
	}

	return h
}

// release publishes an artifact and makes the resolver report it.
func (h *harness) release(name, label string) []byte {
	h.t.Helper()

	jar := testutil.PluginJAR(name, label)
	path := "/dl/" + name + "-" + label + ".jar"

	h.artifacts[path] = jar
	h.resolver.releases[name] = plugin.ResolvedVersion{
		Label:       label,
		DownloadURL: h.srv.URL + path,
	}

	return jar
}

func enabled(name string, src plugin.SourceType) plugin.Spec {
	return plugin.Spec{Name: name, Source: src, Enabled: true}
}

func (h *harness) install(dir, file string, content []byte) {
	h.t.Helper()

	require.NoError(h.t, afero.WriteFile(h.fs, filepath.Join(dir, file), content, 0o644))
}

func (h *harness) engine(mutate ...func(*pluginsync.Opts)) *pluginsync.Engine {
	opts := pluginsync.Opts{
		Resolver: h.resolver,
		Fetcher:  fetcher.New(fetcher.Opts{Fs: h.fs, Threads: h.cfg.DownloadThreads, Timeout: 5 * time.Second}),
		Backups:  h.backups,
		Store:    h.store,
		Fs:       h.fs,
	}

	for _, m := range mutate {
		m(&opts)
	}

	return pluginsync.New(opts)
}

func (h *harness) files(dir string) []string {
	h.t.Helper()

	entries, err := afero.ReadDir(h.fs, dir)
	if err != nil && !os.IsNotExist(err) {
		require.NoError(h.t, err)
	}

	var names []string

	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names
}

func (h *harness) read(path string) []byte {
	h.t.Helper()

	data, err := afero.ReadFile(h.fs, path)
	require.NoError(h.t, err)

	return data
}

// renameFailFs fails renames onto one path.
type renameFailFs struct {
	afero.Fs
	target string
}

func (f renameFailFs) Rename(oldname, newname string) error {
	if newname == f.target {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrPermission}
	}

	return f.Fs.Rename(oldname, newname)
}

// failingBackups refuses every snapshot.
type failingBackups struct{}

func (failingBackups) SnapshotTree(_, root string) (*plugin.BackupRecord, error) {
	return nil, &plugin.BackupError{Path: root, Err: os.ErrPermission}
}

func (failingBackups) PruneTrees(string, backup.Policy) ([]plugin.BackupRecord, error) {
	return nil, nil
}

func (failingBackups) Snapshot(_, path string) (*plugin.BackupRecord, error) {
	return nil, &plugin.BackupError{Path: path, Err: os.ErrPermission}
}

func (failingBackups) Prune(string, backup.Policy) ([]plugin.BackupRecord, error) {
	return nil, nil
}
