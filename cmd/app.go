package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/backup"
	"github.com/NindroidA/pluginator/internal/config"
	"github.com/NindroidA/pluginator/internal/fetcher"
	"github.com/NindroidA/pluginator/internal/getter"
	"github.com/NindroidA/pluginator/internal/hooks"
	"github.com/NindroidA/pluginator/internal/httpclient"
	"github.com/NindroidA/pluginator/internal/metrics"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/source"
	"github.com/NindroidA/pluginator/internal/state"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
	"github.com/NindroidA/pluginator/internal/ui"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg     *config.Resolved
	logger  *slog.Logger
	out     *ui.Writer
	client  httpclient.Client
	sources *source.Registry
	fetcher *fetcher.Fetcher
	backups *backup.Manager
	store   *state.Store
}

// loadConfig reads the environment config and plugin list. A remote plugin
// list is downloaded to a temporary file first.
func loadConfig(ctx context.Context, logger *slog.Logger) (*config.Resolved, error) {
	env, err := config.LoadEnv(cfgFile)
	if err != nil {
		return nil, err
	}

	path := pluginsFile

	if getter.IsRemote(path) {
		local, cleanup, err := getter.New(logger).FetchTemp(ctx, path, getter.FetchOpts{})
		if err != nil {
			return nil, errors.Wrap(err, "fetching plugin list")
		}
		defer cleanup()

		path = local
	}

	entries, err := config.LoadPluginsFile(path)
	if err != nil {
		return nil, err
	}

	return config.Resolve(env, entries)
}

func newApp(ctx context.Context) (*app, error) {
	logger := slog.Default()

	cfg, err := loadConfig(ctx, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Debug && !verbose {
		initLogger(true)
		logger = slog.Default()
	}

	if _, ok := ui.ThemeByName(cfg.Theme); !ok {
		logger.Warn("unknown THEME, using default", "theme", cfg.Theme)
	}

	client := httpclient.New(httpclient.WithUserAgent("Pluginator/" + buildVersion))

	backups, err := backup.New(backup.Opts{
		Dir:         cfg.BackupDir,
		Compression: cfg.Compression,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	store := state.New(state.Opts{
		Dir:    cfg.ProdDir,
		Path:   cfg.StateFile,
		Logger: logger,
	})

	if err := store.Load(); err != nil {
		logger.Warn("ignoring unreadable version file", "path", cfg.StateFile, "error", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		out:    ui.NewWriter(noColor, cfg.Theme),
		client: client,
		sources: source.NewRegistry(source.Options{
			Client:           client,
			Timeout:          cfg.APITimeout,
			Logger:           logger,
			GitHubToken:      cfg.GitHubToken,
			CurseForgeAPIKey: cfg.CurseForgeAPIKey,
		}),
		fetcher: fetcher.New(fetcher.Opts{
			Client:   client,
			Threads:  cfg.DownloadThreads,
			Timeout:  cfg.DownloadTimeout,
			MaxBytes: cfg.MaxDownloadBytes,
			Logger:   logger,
		}),
		backups: backups,
		store:   store,
	}, nil
}

// engineOpts are the per-command engine settings.
type engineOpts struct {
	dryRun  bool
	only    []string
	metrics metrics.Recorder
}

func (a *app) engine(opts engineOpts) *pluginsync.Engine {
	return pluginsync.New(pluginsync.Opts{
		Resolver: a.sources,
		Fetcher:  a.fetcher,
		Backups:  a.backups,
		Store:    a.store,
		Metrics:  opts.metrics,
		Logger:   a.logger,
		DryRun:   opts.dryRun,
		Only:     opts.only,
	})
}

// runHooks runs the post-sync hooks for a cycle that installed anything.
// Hook failures are logged and never fail the command.
func (a *app) runHooks(ctx context.Context, sum *pluginsync.Summary) {
	if sum.DryRun || len(a.cfg.PostSyncHooks) == 0 {
		return
	}

	ev := hooks.Event{ProdDir: a.cfg.ProdDir}

	for i := range sum.Results {
		switch sum.Results[i].Status {
		case plugin.StatusUpdated:
			ev.Updated = append(ev.Updated, sum.Results[i].Plugin)
		case plugin.StatusFailed:
			ev.Failed = append(ev.Failed, sum.Results[i].Plugin)
		}
	}

	hooks.RunPostSync(ctx, &hooks.Opts{
		Hooks:  a.cfg.PostSyncHooks,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: a.logger,
	}, ev)
}
