package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/config"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/state"
	"github.com/NindroidA/pluginator/internal/version"
)

// serverJarPattern matches Purpur server jars in a server's root directory.
const serverJarPattern = "purpur-*.jar"

// Migration is the outcome of promoting the test server to production.
type Migration struct {
	// Backup is the archive of the production plugins directory taken first.
	Backup  *plugin.BackupRecord `json:"backup,omitempty"`
	Results []ReconcileResult    `json:"results"`
	// ServerJars lists the server jars copied into the production server.
	ServerJars []string `json:"server_jars,omitempty"`
}

// Failed returns the plugins that could not be promoted.
func (m *Migration) Failed() []ReconcileResult {
	var out []ReconcileResult

	for i := range m.Results {
		if m.Results[i].Err != nil {
			out = append(out, m.Results[i])
		}
	}

	return out
}

// Migrate copies each plugin's file from the test plugins directory into
// production, the reverse of Reconcile. Disabled test copies are promoted as
// enabled jars and the test tree is left as it is. Other production files of
// a promoted plugin are removed. Purpur server jars in the test server root
// are copied to the production server root. The production plugins directory
// is archived first; when that fails nothing is touched.
func (e *Engine) Migrate(ctx context.Context, cfg *config.Resolved) (*Migration, error) {
	if cfg == nil {
		return nil, &plugin.ConfigError{Problems: []string{"no configuration"}}
	}

	rec, err := e.backups.SnapshotTree(backup.LabelProdPluginsMigrate, cfg.ProdDir)
	if err != nil {
		return nil, errors.Wrap(err, "backing up production plugins directory")
	}

	if rec != nil {
		policy := backup.Policy{MaxCount: cfg.MaxBackups, MaxAge: cfg.MaxBackupAge}
		if _, err := e.backups.PruneTrees(backup.LabelProdPluginsMigrate, policy); err != nil {
			e.logger.Warn("failed to prune production backups", "error", err)
		}
	}

	mig := &Migration{Backup: rec}
	specs := e.selected(cfg)

	for i := range specs {
		spec := &specs[i]

		if ctx.Err() != nil {
			mig.Results = append(mig.Results, ReconcileResult{Plugin: spec.Name, Action: ActionSkipped})

			continue
		}

		res := e.migratePlugin(cfg, spec)
		if res.Err != nil {
			res.Action = ActionFailed
			e.logger.Warn("migration failed", "plugin", spec.Name, "error", res.Err)
		} else if res.Changed() {
			e.logger.Info("promoted plugin to production", "plugin", spec.Name, "path", res.Path, "removed", len(res.Removed))
		}

		mig.Results = append(mig.Results, res)
	}

	if ctx.Err() != nil {
		return mig, errors.Wrap(ctx.Err(), "migration cancelled")
	}

	jars, err := e.migrateServerJars(cfg)
	mig.ServerJars = jars

	if err != nil {
		return mig, err
	}

	return mig, nil
}

func (e *Engine) migratePlugin(cfg *config.Resolved, spec *plugin.Spec) ReconcileResult {
	unlock := e.locks.Lock(spec.Name)
	defer unlock()

	res := ReconcileResult{Plugin: spec.Name}

	m, err := state.NewMatcher(*spec)
	if err != nil {
		res.Err = errors.Wrapf(err, "compiling filename pattern for %s", spec.Name)

		return res
	}

	testFiles, err := e.listDir(cfg.TestDir)
	if err != nil {
		res.Err = err

		return res
	}

	var matches []string

	for _, name := range testFiles {
		if m.Match(name) || m.MatchDisabled(name) {
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

	src := filepath.Join(cfg.TestDir, matches[0])
	target := filepath.Join(cfg.ProdDir, strings.TrimSuffix(matches[0], version.DisabledSuffix))

	prodFiles, err := e.listDir(cfg.ProdDir)
	if err != nil {
		res.Err = err

		return res
	}

	same, err := sameContent(e.fs, src, target)
	if err != nil {
		res.Err = err

		return res
	}

	res.Path = target
	res.Action = ActionUnchanged

	if !same {
		if err := copyFile(e.fs, src, target); err != nil {
			res.Err = err

			return res
		}

		res.Action = ActionCopied
	}

	for _, name := range prodFiles {
		path := filepath.Join(cfg.ProdDir, name)
		if path == target || !m.Match(name) {
			continue
		}

		if err := e.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Err = errors.Wrapf(err, "removing replaced %s", path)

			return res
		}

		res.Removed = append(res.Removed, path)
	}

	return res
}

// migrateServerJars copies Purpur jars that differ from production's.
func (e *Engine) migrateServerJars(cfg *config.Resolved) ([]string, error) {
	testRoot := filepath.Dir(filepath.Clean(cfg.TestDir))
	prodRoot := filepath.Dir(filepath.Clean(cfg.ProdDir))

	names, err := e.listDir(testRoot)
	if err != nil {
		return nil, err
	}

	var copied []string

	for _, name := range names {
		if ok, _ := filepath.Match(serverJarPattern, name); !ok {
			continue
		}

		src := filepath.Join(testRoot, name)
		dst := filepath.Join(prodRoot, name)

		same, err := sameContent(e.fs, src, dst)
		if err != nil {
			return copied, err
		}

		if same {
			continue
		}

		if err := copyFile(e.fs, src, dst); err != nil {
			return copied, errors.Wrapf(err, "copying server jar %s", name)
		}

		e.logger.Info("promoted server jar", "file", name)
		copied = append(copied, dst)
	}

	return copied, nil
}
