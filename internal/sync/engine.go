// Package sync runs update cycles: it resolves the latest release of every
// configured plugin, applies newer artifacts to the production plugins
// directory and then reconciles the test server against production.
package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/config"
	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/fetcher"
	"github.com/NindroidA/pluginator/internal/metrics"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/version"
)

// Resolver looks up the latest release of a plugin.
type Resolver interface {
	FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error)
}

// Downloader retrieves artifacts into temporary files.
type Downloader interface {
	Download(ctx context.Context, req fetcher.Request) (*fetcher.LocalFile, error)
	Discard(lf *fetcher.LocalFile)
}

// Backups snapshots files and directories before they are replaced.
type Backups interface {
	Snapshot(pluginName, path string) (*plugin.BackupRecord, error)
	Prune(pluginName string, p backup.Policy) ([]plugin.BackupRecord, error)
	SnapshotTree(label, root string) (*plugin.BackupRecord, error)
	PruneTrees(label string, p backup.Policy) ([]plugin.BackupRecord, error)
}

// Store holds the installed state of the production plugins directory.
type Store interface {
	Scan(specs []plugin.Spec) error
	Get(name string) (*plugin.Installed, error)
	Put(inst plugin.Installed)
	Save() error
}

// Opts configures an Engine.
type Opts struct {
	Resolver Resolver
	Fetcher  Downloader
	Backups  Backups
	Store    Store
	Metrics  metrics.Recorder
	Fs       afero.Fs
	Logger   *slog.Logger
	Now      func() time.Time

	// DryRun stops every task after the update decision.
	DryRun bool
	// Only limits the cycle to the named plugins.
	Only []string
}

// Engine runs sync cycles. One Engine may run cycles repeatedly; tasks for
// the same plugin never overlap.
type Engine struct {
	resolver Resolver
	fetcher  Downloader
	backups  Backups
	store    Store
	metrics  metrics.Recorder
	fs       afero.Fs
	logger   *slog.Logger
	now      func() time.Time
	dryRun   bool
	only     map[string]bool
	locks    keyedMutex
}

// New returns an Engine.
func New(opts Opts) *Engine {
	e := &Engine{
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		backups:  opts.Backups,
		store:    opts.Store,
		metrics:  opts.Metrics,
		fs:       opts.Fs,
		logger:   opts.Logger,
		now:      opts.Now,
		dryRun:   opts.DryRun,
	}

	if e.metrics == nil {
		e.metrics = &metrics.NoopRecorder{}
	}

	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.now == nil {
		e.now = time.Now
	}

	if len(opts.Only) > 0 {
		e.only = make(map[string]bool, len(opts.Only))
		for _, name := range opts.Only {
			e.only[strings.ToLower(name)] = true
		}
	}

	return e
}

// selected returns the plugins in scope for this engine, in config order.
func (e *Engine) selected(cfg *config.Resolved) []plugin.Spec {
	if e.only == nil {
		return cfg.Plugins
	}

	var specs []plugin.Spec

	for _, spec := range cfg.Plugins {
		if e.only[strings.ToLower(spec.Name)] {
			specs = append(specs, spec)
		}
	}

	return specs
}

// Run executes one sync cycle. Per-plugin failures are recorded in the
// summary and never abort the cycle; only a nil configuration, an unreadable
// production directory or cancellation of ctx return an error. When ctx is
// cancelled the summary still lists every plugin and reconciliation is
// skipped.
func (e *Engine) Run(ctx context.Context, cfg *config.Resolved) (*Summary, error) {
	if cfg == nil {
		return nil, &plugin.ConfigError{Problems: []string{"no configuration"}}
	}

	started := e.now()
	sum := &Summary{Started: started, DryRun: e.dryRun}
	specs := e.selected(cfg)

	e.logger.Info("starting sync cycle", "plugins", len(specs), "dry_run", e.dryRun)

	if err := e.store.Scan(specs); err != nil {
		e.metrics.RecordCycle(err, time.Since(started))

		return nil, errors.Wrap(err, "scanning installed plugins")
	}

	results := make([]plugin.Result, len(specs))

	workers := cfg.ResolveWorkers
	if workers <= 0 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i := range specs {
		spec := specs[i]

		if !spec.Enabled {
			results[i] = plugin.Result{
				Plugin: spec.Name,
				Source: spec.Source,
				Status: plugin.StatusSkippedDisabled,
				Phase:  plugin.PhasePending,
			}

			continue
		}

		g.Go(func() error {
			results[i] = e.runTask(ctx, cfg, &spec)

			return nil
		})
	}

	g.Wait() //nolint:errcheck // tasks report failures through their Result and never return an error

	sum.Results = results

	for i := range results {
		e.metrics.RecordResult(string(results[i].Status))
	}

	cancelled := ctx.Err() != nil

	switch {
	case cancelled:
		sum.Cancelled = true
		e.logger.Warn("sync cycle cancelled, skipping reconciliation")
	case e.dryRun:
	default:
		rec, err := e.backupTestDir(cfg)
		if err != nil {
			e.logger.Warn("skipping reconciliation", "error", err)
			sum.Warnings = append(sum.Warnings, err.Error()+"; test server not reconciled")

			break
		}

		sum.TestBackup = rec
		sum.Reconciliation = e.reconcile(ctx, cfg, specs)
	}

	if !e.dryRun {
		if err := e.store.Save(); err != nil {
			e.logger.Warn("failed to save version store", "error", err)
			sum.Warnings = append(sum.Warnings, "saving version store: "+err.Error())
		}
	}

	sum.Finished = e.now()

	var cycleErr error
	if cancelled {
		cycleErr = errors.Wrap(ctx.Err(), "sync cycle cancelled")
	}

	e.metrics.RecordCycle(cycleErr, time.Since(started))

	counts := sum.Counts()
	e.logger.Info("sync cycle finished",
		"updated", counts[plugin.StatusUpdated],
		"up_to_date", counts[plugin.StatusUpToDate],
		"failed", counts[plugin.StatusFailed],
		"duration", sum.Finished.Sub(sum.Started))

	return sum, cycleErr
}

// task carries one plugin through the state machine.
type task struct {
	spec   *plugin.Spec
	logger *slog.Logger
	res    plugin.Result
}

func (t *task) enter(p plugin.Phase) {
	t.res.Phase = p
	t.logger.Debug("phase", "phase", p)
}

func (t *task) fail(err error) plugin.Result {
	t.res.Status = plugin.StatusFailed
	t.res.Err = err

	attrs := []any{"phase", t.res.Phase, "error", err}

	switch plugin.SeverityOf(err) {
	case plugin.SeverityCritical:
		t.logger.Error("plugin update failed", attrs...)
	default:
		t.logger.Warn("plugin update failed", attrs...)
	}

	return t.res
}

func (t *task) done(status plugin.Status) plugin.Result {
	t.res.Status = status
	t.res.Phase = plugin.PhaseDone
	t.logger.Debug("phase", "phase", plugin.PhaseDone, "status", status)

	return t.res
}

func (t *task) warn(msg string, err error) {
	t.res.Warnings = append(t.res.Warnings, msg+": "+err.Error())
	t.logger.Warn(msg, "error", err)
}

func (e *Engine) runTask(ctx context.Context, cfg *config.Resolved, spec *plugin.Spec) plugin.Result {
	unlock := e.locks.Lock(spec.Name)
	defer unlock()

	t := &task{
		spec:   spec,
		logger: e.logger.With("plugin", spec.Name, "source", spec.Source),
		res: plugin.Result{
			Plugin: spec.Name,
			Source: spec.Source,
			Phase:  plugin.PhasePending,
		},
	}

	if err := ctx.Err(); err != nil {
		return t.fail(errors.Wrap(err, "cancelled before start"))
	}

	installed, err := e.store.Get(spec.Name)
	if err != nil {
		return t.fail(err)
	}

	if installed != nil {
		t.res.InstalledVersion = installed.Label
		t.res.FilePath = installed.FilePath
	}

	t.enter(plugin.PhaseResolving)

	start := time.Now()
	rv, err := e.resolver.FetchLatest(ctx, spec)
	e.metrics.RecordSourceCall(string(spec.Source), err, time.Since(start))

	if err != nil {
		return t.fail(err)
	}

	t.res.RemoteVersion = rv.Label

	t.enter(plugin.PhaseDeciding)

	if installed != nil && rv.Checksum != "" {
		e.cacheDigest(t, installed, rv.Checksum)
	}

	if !version.NeedsUpdate(installed, rv) {
		return t.done(plugin.StatusUpToDate)
	}

	if e.dryRun {
		return t.done(plugin.StatusUpdateAvailable)
	}

	if err := ctx.Err(); err != nil {
		return t.fail(errors.Wrap(err, "cancelled before download"))
	}

	t.enter(plugin.PhaseDownloading)

	start = time.Now()
	lf, err := e.fetcher.Download(ctx, fetcher.Request{
		URL:             rv.DownloadURL,
		Headers:         rv.Headers,
		Dir:             cfg.ProdDir,
		Name:            spec.FileBase(),
		MaxBytes:        cfg.MaxDownloadBytes,
		Checksum:        rv.Checksum,
		FollowRedirects: rv.FollowRedirects,
	})

	var size int64
	if lf != nil {
		size = lf.Size
	}

	e.metrics.RecordDownload(string(spec.Source), size, err, time.Since(start))

	if err != nil {
		return t.fail(err)
	}

	return e.install(ctx, cfg, t, installed, rv, lf)
}

// install takes the backup, moves the download into place and records the
// new state. The temporary file is removed on every failure.
func (e *Engine) install(
	ctx context.Context,
	cfg *config.Resolved,
	t *task,
	installed *plugin.Installed,
	rv *plugin.ResolvedVersion,
	lf *fetcher.LocalFile,
) plugin.Result {
	spec := t.spec
	final := filepath.Join(cfg.ProdDir, spec.FileBase())

	t.enter(plugin.PhaseBackingUp)

	var previous string
	if installed != nil {
		previous = installed.FilePath
	}

	if previous != "" {
		rec, err := e.backups.Snapshot(spec.Name, previous)
		if err != nil {
			e.fetcher.Discard(lf)

			return t.fail(err)
		}

		t.res.Backup = rec
	}

	// The rename below is never interrupted; this is the last point at which
	// cancellation is honoured.
	if err := ctx.Err(); err != nil {
		e.fetcher.Discard(lf)

		return t.fail(errors.Wrap(err, "cancelled before apply"))
	}

	t.enter(plugin.PhaseApplying)

	if err := e.fs.Rename(lf.Path, final); err != nil {
		e.fetcher.Discard(lf)

		return t.fail(&plugin.ApplyError{
			Path:           final,
			CorruptionRisk: previous != "",
			Err:            err,
		})
	}

	t.res.FilePath = final

	if previous != "" && previous != final {
		if err := e.fs.Remove(previous); err != nil {
			t.warn("failed to remove previous file", err)
		}
	}

	inst := plugin.Installed{
		PluginName: spec.Name,
		FilePath:   final,
		Label:      rv.Label,
		FileHash:   lf.Hash,
	}

	if rv.Checksum != "" {
		if algo, sum, err := digest.Parse(rv.Checksum); err == nil {
			inst.SetDigest(algo, sum)
		}
	}

	e.store.Put(inst)

	policy := backup.Policy{MaxCount: cfg.MaxBackups, MaxAge: cfg.MaxBackupAge}
	if _, err := e.backups.Prune(spec.Name, policy); err != nil {
		t.warn("failed to prune backups", err)
	}

	t.logger.Info("plugin updated", "from", orUnknown(t.res.InstalledVersion), "to", rv.Label, "path", final)

	return t.done(plugin.StatusUpdated)
}

// cacheDigest computes the installed file's digest in the algorithm the
// source published, so NeedsUpdate can compare checksums.
func (e *Engine) cacheDigest(t *task, installed *plugin.Installed, checksum string) {
	algo, _, err := digest.Parse(checksum)
	if err != nil {
		t.logger.Debug("ignoring unparseable checksum", "checksum", checksum, "error", err)

		return
	}

	if _, ok := installed.Digest(algo); ok {
		return
	}

	sum, err := digest.File(e.fs, installed.FilePath, algo)
	if err != nil {
		t.logger.Debug("could not hash installed file", "path", installed.FilePath, "error", err)

		return
	}

	installed.SetDigest(algo, sum)
}

func orUnknown(label string) string {
	if label == "" {
		return "unknown"
	}

	return label
}
