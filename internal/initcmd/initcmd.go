// Package initcmd implements the pluginator init command, which writes a
// starter environment config and plugin list.
package initcmd

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// Opts configures the init operation.
type Opts struct {
	// Dir is the working directory to scaffold. Empty means the current directory.
	Dir string
	// Force overwrites existing files.
	Force bool
	Fs    afero.Fs
}

const configTemplate = `# Pluginator environment configuration.
# Process environment variables prefixed with PLUGINATOR_ override these values.

PLUGINATOR_DEBUG=false

PROD_SERVER_PATH=./SERVER/prod/plugins
TEST_SERVER_PATH=./SERVER/test/plugins

BACKUP_DIR=./data/backups
MAX_BACKUPS=2
MAX_BACKUP_DAYS=30
BACKUP_COMPRESSION=zstd

LOGS_DIR=./data/logs
PLUGIN_VERSIONS_FILE=./data/plugin_versions.yaml

# Fallback game version for Modrinth and CurseForge lookups.
MINECRAFT_VERSION=1.21.4

API_TIMEOUT=30
DOWNLOAD_TIMEOUT=300
DOWNLOAD_THREADS=3
MAX_DOWNLOAD_MB=100

GITHUB_TOKEN=
CURSEFORGE_API_KEY=
`

const pluginsTemplate = `{
  "plugins": [
    {
      "name": "EssentialsX",
      "type": "github",
      "repoSlug": "EssentialsX/Essentials",
      "assetPattern": "EssentialsX-[0-9.]+\\.jar",
      "enabled": true
    },
    {
      "name": "WorldEdit",
      "type": "modrinth",
      "projectSlug": "worldedit",
      "enabled": true
    },
    {
      "name": "Vault",
      "type": "spigot",
      "resourceId": "34315",
      "enabled": false
    }
  ]
}
`

// starterFiles maps paths relative to Dir onto their contents.
var starterFiles = []struct {
	path    string
	content string
}{
	{path: filepath.Join("config", "pluginator.config"), content: configTemplate},
	{path: filepath.Join("data", "plugins.json"), content: pluginsTemplate},
}

// starterDirs are created empty.
var starterDirs = []string{
	filepath.Join("data", "backups"),
	filepath.Join("data", "logs"),
}

// Run writes the starter files and returns the paths it created. Without
// Force it refuses to touch a directory that already holds any of them.
func Run(opts *Opts) ([]string, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := "."
	if opts.Dir != "" {
		dir = opts.Dir
	}

	if !opts.Force {
		for _, f := range starterFiles {
			path := filepath.Join(dir, f.path)

			if _, err := fs.Stat(path); err == nil {
				return nil, errors.Newf("%s already exists (use --force to overwrite)", path)
			} else if !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "checking %s", path)
			}
		}
	}

	var created []string

	for _, f := range starterFiles {
		path := filepath.Join(dir, f.path)

		if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return created, errors.Wrapf(err, "creating directory %s", filepath.Dir(path))
		}

		if err := afero.WriteFile(fs, path, []byte(f.content), 0o600); err != nil {
			return created, errors.Wrapf(err, "writing %s", path)
		}

		created = append(created, path)
	}

	for _, d := range starterDirs {
		path := filepath.Join(dir, d)
		if err := fs.MkdirAll(path, 0o750); err != nil {
			return created, errors.Wrapf(err, "creating directory %s", path)
		}
	}

	return created, nil
}
