package sync

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/config"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/state"
	"github.com/NindroidA/pluginator/internal/version"
)

// Reconcile makes the test plugins directory match production. Plugins
// marked DisableOnTest are kept in the test tree only as disabled files.
// Production is never modified. Failures are reported per plugin. The test
// plugins directory is archived first; when that fails nothing is touched and
// the error is returned.
func (e *Engine) Reconcile(ctx context.Context, cfg *config.Resolved) ([]ReconcileResult, error) {
	if _, err := e.backupTestDir(cfg); err != nil {
		return nil, err
	}

	return e.reconcile(ctx, cfg, e.selected(cfg)), nil
}

// backupTestDir archives the test plugins directory before reconciliation
// overwrites it and applies the retention policy to those archives.
func (e *Engine) backupTestDir(cfg *config.Resolved) (*plugin.BackupRecord, error) {
	rec, err := e.backups.SnapshotTree(backup.LabelTestPluginsSync, cfg.TestDir)
	if err != nil {
		return nil, errors.Wrap(err, "backing up test plugins directory")
	}

	if rec == nil {
		return nil, nil
	}

	policy := backup.Policy{MaxCount: cfg.MaxBackups, MaxAge: cfg.MaxBackupAge}
	if _, err := e.backups.PruneTrees(backup.LabelTestPluginsSync, policy); err != nil {
		e.logger.Warn("failed to prune test plugins backups", "error", err)
	}

	return rec, nil
}

func (e *Engine) reconcile(ctx context.Context, cfg *config.Resolved, specs []plugin.Spec) []ReconcileResult {
	results := make([]ReconcileResult, 0, len(specs))

	for i := range specs {
		spec := &specs[i]

		if ctx.Err() != nil {
			results = append(results, ReconcileResult{Plugin: spec.Name, Action: ActionSkipped})

			continue
		}

		res := e.reconcilePlugin(cfg, spec)
		if res.Err != nil {
			res.Action = ActionFailed
			e.logger.Warn("reconciliation failed", "plugin", spec.Name, "error", res.Err)
		} else if res.Changed() {
			e.logger.Info("reconciled test server", "plugin", spec.Name, "action", res.Action, "removed", len(res.Removed))
		}

		e.metrics.RecordReconcile(string(res.Action))
		results = append(results, res)
	}

	return results
}

func (e *Engine) reconcilePlugin(cfg *config.Resolved, spec *plugin.Spec) ReconcileResult {
	unlock := e.locks.Lock(spec.Name)
	defer unlock()

	res := ReconcileResult{Plugin: spec.Name}

	m, err := state.NewMatcher(*spec)
	if err != nil {
		res.Err = errors.Wrapf(err, "compiling filename pattern for %s", spec.Name)

		return res
	}

	prodFiles, err := e.listDir(cfg.ProdDir)
	if err != nil {
		res.Err = err

		return res
	}

	var matches []string

	for _, name := range prodFiles {
		if m.Match(name) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		res.Action = ActionMissing

		return res
	case 1:
	default:
		res.Err = &plugin.AmbiguousInstallError{Plugin: spec.Name, Candidates: matches}

		return res
	}

	prodPath := filepath.Join(cfg.ProdDir, matches[0])

	target := filepath.Join(cfg.TestDir, matches[0])
	written := ActionCopied

	if spec.DisableOnTest {
		target += version.DisabledSuffix
		written = ActionDisabled
	}

	testFiles, err := e.listDir(cfg.TestDir)
	if err != nil {
		res.Err = err

		return res
	}

	same, err := sameContent(e.fs, prodPath, target)
	if err != nil {
		res.Err = err

		return res
	}

	res.Path = target
	res.Action = ActionUnchanged

	if !same {
		if err := copyFile(e.fs, prodPath, target); err != nil {
			res.Err = err

			return res
		}

		res.Action = written
	}

	for _, name := range testFiles {
		path := filepath.Join(cfg.TestDir, name)
		if path == target {
			continue
		}

		if !m.Match(name) && !m.MatchDisabled(name) {
			continue
		}

		if err := e.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Err = errors.Wrapf(err, "removing stale %s", path)

			return res
		}

		res.Removed = append(res.Removed, path)
	}

	return res
}

func (e *Engine) listDir(dir string) ([]string, error) {
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
