package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NindroidA/pluginator/internal/plugin"
	pluginsync "github.com/NindroidA/pluginator/internal/sync"
	"github.com/NindroidA/pluginator/internal/testutil"
	"github.com/NindroidA/pluginator/internal/ui"
)

// Commands share package-level flag variables, so these tests run serially
// and pass every flag they depend on.

type fixture struct {
	dir     string
	config  string
	plugins string
	version atomic.Value
	srv     *httptest.Server
}

func newFixture(t *testing.T, entries string, extraEnv ...string) *fixture {
	t.Helper()

	f := &fixture{dir: t.TempDir()}
	f.version.Store("7.3.0")

	mux := http.NewServeMux()
	mux.HandleFunc("/worldedit.json", func(w http.ResponseWriter, _ *http.Request) {
		v := f.version.Load().(string)
		fmt.Fprintf(w, `{"version": %q, "downloadUrl": %q}`, v, f.srv.URL+"/WorldEdit-"+v+".jar")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		v, ok := strings.CutPrefix(r.URL.Path, "/WorldEdit-")
		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(testutil.PluginJAR("WorldEdit", strings.TrimSuffix(v, ".jar")))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	f.config = filepath.Join(f.dir, "pluginator.config")
	env := strings.Join([]string{
		"PROD_SERVER_PATH=" + filepath.Join(f.dir, "prod", "plugins"),
		"TEST_SERVER_PATH=" + filepath.Join(f.dir, "test", "plugins"),
		"BACKUP_DIR=" + filepath.Join(f.dir, "backups"),
		"PLUGIN_VERSIONS_FILE=" + filepath.Join(f.dir, "plugin_versions.yaml"),
		"BACKUP_COMPRESSION=none",
	}, "\n") + "\n" + strings.Join(extraEnv, "\n")
	require.NoError(t, os.WriteFile(f.config, []byte(env+"\n"), 0o600))

	f.plugins = filepath.Join(f.dir, "plugins.json")
	require.NoError(t, os.WriteFile(f.plugins, []byte(strings.ReplaceAll(entries, "{{URL}}", f.srv.URL)), 0o600))

	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", f.config, "--plugins", f.plugins, "--no-color"))

	// Cobra only propagates the root context to subcommands whose context is
	// unset, so refresh every command with this test's context.
	setContextRecursive(rootCmd, t.Context())

	err := rootCmd.ExecuteContext(t.Context())

	return out.String(), err
}

func setContextRecursive(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)

	for _, sub := range c.Commands() {
		setContextRecursive(sub, ctx)
	}
}

const worldEditOnly = `{"plugins": [{"name": "WorldEdit", "type": "web", "manifestUrl": "{{URL}}/worldedit.json"}]}`

func TestSyncStatusAndBackups(t *testing.T) {
	f := newFixture(t, worldEditOnly)

	out, err := f.run(t, "sync", "--dry-run=false", "--output", "table")
	require.NoError(t, err, out)
	assert.Contains(t, out, "WorldEdit")
	assert.Contains(t, out, "1 updated")
	assert.FileExists(t, filepath.Join(f.dir, "prod", "plugins", "WorldEdit.jar"))
	assert.FileExists(t, filepath.Join(f.dir, "test", "plugins", "WorldEdit.jar"))

	out, err = f.run(t, "status", "--output", "json", "--refresh=false")
	require.NoError(t, err, out)

	var rows []ui.StatusRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "7.3.0", rows[0].Version)
	assert.Equal(t, "WorldEdit.jar", rows[0].File)

	f.version.Store("7.3.1")

	out, err = f.run(t, "sync", "--dry-run=false", "--output", "json")
	require.NoError(t, err, out)

	out, err = f.run(t, "backups", "list", "WorldEdit", "--output", "json", "--servers=false")
	require.NoError(t, err, out)

	var records []plugin.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "WorldEdit", records[0].PluginName)
}

func TestMigrate(t *testing.T) {
	f := newFixture(t, worldEditOnly)

	prod := filepath.Join(f.dir, "prod", "plugins")
	test := filepath.Join(f.dir, "test", "plugins")
	promoted := testutil.PluginJAR("WorldEdit", "7.4.0-beta")

	require.NoError(t, os.MkdirAll(prod, 0o750))
	require.NoError(t, os.MkdirAll(test, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(prod, "WorldEdit.jar"), testutil.PluginJAR("WorldEdit", "7.3.0"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(test, "WorldEdit.jar"), promoted, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "test", "purpur-1.21.4-2400.jar"), []byte("server"), 0o600))

	rootCmd.SetIn(strings.NewReader("n\n"))
	t.Cleanup(func() { rootCmd.SetIn(nil) })

	out, err := f.run(t, "migrate", "--force=false")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Continue? [y/N]")
	assert.NoFileExists(t, filepath.Join(f.dir, "prod", "purpur-1.21.4-2400.jar"), "declined migration changes nothing")

	out, err = f.run(t, "migrate", "--force")
	require.NoError(t, err, out)

	got, err := os.ReadFile(filepath.Join(prod, "WorldEdit.jar"))
	require.NoError(t, err)
	assert.Equal(t, promoted, got)
	assert.FileExists(t, filepath.Join(f.dir, "prod", "purpur-1.21.4-2400.jar"))

	out, err = f.run(t, "status", "--output", "json", "--refresh=false")
	require.NoError(t, err, out)

	var rows []ui.StatusRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "7.4.0-beta", rows[0].Version)
	require.NotNil(t, rows[0].UpdatedAt, "migrate records the promoted file")

	out, err = f.run(t, "backups", "list", "--servers", "--output", "json")
	require.NoError(t, err, out)

	var records []plugin.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "prod_plugins_before_migration", records[0].PluginName)
}

func TestBackupsCreateAndStatusRefresh(t *testing.T) {
	f := newFixture(t, worldEditOnly)

	prod := filepath.Join(f.dir, "prod", "plugins")
	require.NoError(t, os.MkdirAll(prod, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(prod, "WorldEdit.jar"), testutil.PluginJAR("WorldEdit", "7.2.0"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "prod", "server.properties"), []byte("motd=prod\n"), 0o600))

	out, err := f.run(t, "backups", "create", "prod", "--plugins-only=false")
	require.NoError(t, err, out)

	out, err = f.run(t, "backups", "list", "prod_server", "--servers", "--output", "json")
	require.NoError(t, err, out)

	var records []plugin.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.True(t, strings.HasSuffix(records[0].ArchivePath, ".tar"), records[0].ArchivePath)

	_, err = f.run(t, "backups", "create", "staging", "--plugins-only=false")
	require.Error(t, err)

	out, err = f.run(t, "status", "--output", "json", "--refresh")
	require.NoError(t, err, out)

	data, err := os.ReadFile(filepath.Join(f.dir, "plugin_versions.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 7.2.0")
	assert.Contains(t, string(data), "file: WorldEdit.jar")
}

func TestSyncRunsPostSyncHook(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "hook.out")
	f := newFixture(t, worldEditOnly, `POST_SYNC_HOOK='echo "$PLUGINATOR_UPDATED" > `+marker+`'`)

	out, err := f.run(t, "sync", "--dry-run=false", "--output", "table")
	require.NoError(t, err, out)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "WorldEdit\n", string(data))

	require.NoError(t, os.Remove(marker))

	out, err = f.run(t, "sync", "--dry-run=false", "--output", "table")
	require.NoError(t, err, out)
	assert.NoFileExists(t, marker, "nothing was updated on the second run")
}

func TestCheckDoesNotInstall(t *testing.T) {
	f := newFixture(t, worldEditOnly)

	out, err := f.run(t, "check", "--output", "table")
	require.NoError(t, err, out)
	assert.Contains(t, out, "update-available")
	assert.NoFileExists(t, filepath.Join(f.dir, "prod", "plugins", "WorldEdit.jar"))

	syncDryRun = false
}

func TestSyncReportsFailures(t *testing.T) {
	f := newFixture(t, `[
  {"name": "WorldEdit", "type": "web", "manifestUrl": "{{URL}}/worldedit.json"},
  {"name": "Gone", "type": "web", "manifestUrl": "{{URL}}/missing.json"}
]`)

	_, err := f.run(t, "sync", "--dry-run=false", "--output", "table")
	require.Error(t, err)

	var failed *pluginsync.FailedError
	require.True(t, errors.As(err, &failed), err.Error())
	require.Len(t, failed.Plugins, 1)
	assert.Equal(t, "Gone", failed.Plugins[0].Plugin)
	assert.FileExists(t, filepath.Join(f.dir, "prod", "plugins", "WorldEdit.jar"))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	f := newFixture(t, `[{"name": "Broken", "type": "spigot"}]`)

	_, err := f.run(t, "sync", "--dry-run=false", "--output", "table")
	require.Error(t, err)

	var cfgErr *plugin.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "resourceId is required")
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "pluginator dev")
}
