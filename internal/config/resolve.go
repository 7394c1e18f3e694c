// Package config loads Pluginator's environment settings and plugin list and
// resolves them into the typed configuration the sync engine consumes.
package config

import (
	"strings"
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// minResolveWorkers is the floor for resolution concurrency. Adapter calls are
// small JSON requests, so they may run wider than downloads.
const minResolveWorkers = 8

// Resolved is the fully defaulted configuration for one run.
type Resolved struct {
	ProdDir   string
	TestDir   string
	BackupDir string
	LogsDir   string
	// StateFile is empty when version records are not persisted.
	StateFile string

	MinecraftVersion string
	MaxBackups       int
	MaxBackupAge     time.Duration
	APITimeout       time.Duration
	DownloadTimeout  time.Duration
	DownloadThreads  int
	ResolveWorkers   int
	MaxDownloadBytes int64
	Compression      string

	GitHubToken      string
	CurseForgeAPIKey string
	Debug            bool
	Theme            string
	PostSyncHooks    []string

	Plugins []plugin.Spec
}

// Plugin returns the spec with the given name (case-insensitive).
func (r *Resolved) Plugin(name string) (*plugin.Spec, bool) {
	for i := range r.Plugins {
		if strings.EqualFold(r.Plugins[i].Name, name) {
			return &r.Plugins[i], true
		}
	}

	return nil, false
}

// Resolve validates env and entries and applies defaults. All problems are
// reported together in a *plugin.ConfigError.
func Resolve(env *Env, entries []PluginEntry) (*Resolved, error) {
	if env == nil {
		def := DefaultEnv()
		env = &def
	}

	problems := ValidateEnv(env)
	problems = append(problems, ValidatePlugins(entries)...)

	if len(problems) > 0 {
		return nil, &plugin.ConfigError{Problems: problems}
	}

	def := DefaultEnv()

	r := &Resolved{
		ProdDir:          env.ProdServerPath,
		TestDir:          env.TestServerPath,
		BackupDir:        orDefault(env.BackupDir, def.BackupDir),
		LogsDir:          orDefault(env.LogsDir, def.LogsDir),
		StateFile:        env.PluginVersionsFile,
		MinecraftVersion: strings.TrimSpace(env.MinecraftVersion),
		MaxBackups:       env.MaxBackups,
		APITimeout:       time.Duration(positiveOr(env.APITimeout, def.APITimeout)) * time.Second,
		DownloadTimeout:  time.Duration(positiveOr(env.DownloadTimeout, def.DownloadTimeout)) * time.Second,
		DownloadThreads:  positiveOr(env.DownloadThreads, def.DownloadThreads),
		MaxDownloadBytes: int64(positiveOr(env.MaxDownloadMB, def.MaxDownloadMB)) << 20,
		Compression:      strings.ToLower(orDefault(env.BackupCompression, def.BackupCompression)),
		GitHubToken:      env.GitHubToken,
		CurseForgeAPIKey: env.CurseForgeAPIKey,
		Debug:            env.Debug,
		Theme:            strings.ToLower(strings.TrimSpace(env.Theme)),
	}

	if hook := strings.TrimSpace(env.PostSyncHook); hook != "" {
		r.PostSyncHooks = []string{hook}
	}

	days := env.MaxBackupDays
	if days == 0 {
		days = env.MaxLogDays
	}

	r.MaxBackupAge = time.Duration(days) * 24 * time.Hour

	r.ResolveWorkers = env.ResolveWorkers
	if r.ResolveWorkers == 0 {
		r.ResolveWorkers = max(r.DownloadThreads, minResolveWorkers)
	}

	r.Plugins = make([]plugin.Spec, 0, len(entries))
	for i := range entries {
		r.Plugins = append(r.Plugins, toSpec(&entries[i], r.MinecraftVersion))
	}

	return r, nil
}

// toSpec converts an entry. A plugin-level mcVersion overrides the
// environment's MINECRAFT_VERSION.
func toSpec(e *PluginEntry, defaultMC string) plugin.Spec {
	s := plugin.Spec{
		Name:            strings.TrimSpace(e.Name),
		Source:          plugin.SourceType(e.Type),
		Enabled:         e.Enabled == nil || *e.Enabled,
		DisableOnTest:   e.DisableOnTest,
		TargetMCVersion: orDefault(strings.TrimSpace(e.MCVersion), defaultMC),
		FilenamePattern: e.FilenamePattern,
		ResourceID:      strings.TrimSpace(string(e.ResourceID)),
		ProjectSlug:     strings.TrimSpace(e.ProjectSlug),
		RepoSlug:        strings.TrimSpace(e.RepoSlug),
		AssetPattern:    e.AssetPattern,
		ProjectID:       strings.TrimSpace(string(e.ProjectID)),
		JenkinsURL:      strings.TrimRight(strings.TrimSpace(e.JenkinsURL), "/"),
		JobName:         strings.Trim(strings.TrimSpace(e.JobName), "/"),
		ArtifactPattern: e.ArtifactPattern,
		ManifestURL:     strings.TrimSpace(e.ManifestURL),
	}

	if e.Auth != nil {
		s.Auth = &plugin.Auth{Username: e.Auth.Username, APIToken: e.Auth.APIToken}
	}

	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}

	return v
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}
