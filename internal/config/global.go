package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPath is where the environment config lives relative to the working directory.
const DefaultEnvPath = "./config/pluginator.config"

// envPrefix lets process environment variables override file settings,
// e.g. PLUGINATOR_MAX_BACKUPS overrides MAX_BACKUPS.
const envPrefix = "PLUGINATOR_"

// Env is the pluginator.config environment configuration (KEY=VALUE lines).
type Env struct {
	Debug              bool   `koanf:"PLUGINATOR_DEBUG"`
	ProdServerPath     string `koanf:"PROD_SERVER_PATH"`
	TestServerPath     string `koanf:"TEST_SERVER_PATH"`
	BackupDir          string `koanf:"BACKUP_DIR"`
	MaxBackups         int    `koanf:"MAX_BACKUPS"`
	MaxBackupDays      int    `koanf:"MAX_BACKUP_DAYS"`
	LogsDir            string `koanf:"LOGS_DIR"`
	MaxLogDays         int    `koanf:"MAX_LOG_DAYS"`
	PluginVersionsFile string `koanf:"PLUGIN_VERSIONS_FILE"`
	MinecraftVersion   string `koanf:"MINECRAFT_VERSION"`
	// APITimeout and DownloadTimeout are in seconds.
	APITimeout        int    `koanf:"API_TIMEOUT"`
	DownloadTimeout   int    `koanf:"DOWNLOAD_TIMEOUT"`
	DownloadThreads   int    `koanf:"DOWNLOAD_THREADS"`
	ResolveWorkers    int    `koanf:"RESOLVE_WORKERS"`
	MaxDownloadMB     int    `koanf:"MAX_DOWNLOAD_MB"`
	BackupCompression string `koanf:"BACKUP_COMPRESSION"`
	GitHubToken       string `koanf:"GITHUB_TOKEN"`
	CurseForgeAPIKey  string `koanf:"CURSEFORGE_API_KEY"`
	Theme             string `koanf:"THEME"`
	// PostSyncHook is a shell command run after a cycle that updated plugins.
	PostSyncHook string `koanf:"POST_SYNC_HOOK"`
}

// DefaultEnv returns the built-in environment defaults.
func DefaultEnv() Env {
	return Env{
		ProdServerPath:     "./SERVER/prod/plugins",
		TestServerPath:     "./SERVER/test/plugins",
		BackupDir:          "./data/backups",
		MaxBackups:         2,
		LogsDir:            "./data/logs",
		MaxLogDays:         30,
		PluginVersionsFile: "./data/plugin_versions.yaml",
		APITimeout:         30,
		DownloadTimeout:    300,
		DownloadThreads:    3,
		MaxDownloadMB:      100,
		BackupCompression:  "zstd",
		Theme:              "default",
	}
}

// LoadEnv layers the defaults, the config file at path and PLUGINATOR_* process
// environment variables. A missing file is not an error.
func LoadEnv(path string) (*Env, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultEnv(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading default config")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
				return nil, errors.Wrapf(err, "parsing config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment overrides")
	}

	// Tokens are commonly exported without the prefix.
	for _, key := range []string{"GITHUB_TOKEN", "CURSEFORGE_API_KEY"} {
		if v := os.Getenv(key); v != "" && k.String(key) == "" {
			if err := k.Set(key, v); err != nil {
				return nil, errors.Wrapf(err, "setting %s", key)
			}
		}
	}

	var cfg Env
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	return &cfg, nil
}

func envKey(s string) string {
	if s == "PLUGINATOR_DEBUG" {
		return s
	}

	return strings.TrimPrefix(s, envPrefix)
}
