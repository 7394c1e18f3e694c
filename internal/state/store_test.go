package state_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/state"
	"github.com/NindroidA/pluginator/internal/testutil"
)

func spec(name string) plugin.Spec {
	return plugin.Spec{Name: name, Source: plugin.SourceSpigot, ResourceID: "1", Enabled: true}
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    plugin.Spec
		file    string
		matched bool
	}{
		{name: "exact", spec: spec("Vault"), file: "Vault.jar", matched: true},
		{name: "exact any case", spec: spec("Vault"), file: "vault.JAR", matched: true},
		{name: "hyphen prefix", spec: spec("WorldEdit"), file: "worldedit-bukkit-7.3.0.jar", matched: true},
		{name: "longer name", spec: spec("Vault"), file: "VaultUnlocked.jar", matched: false},
		{name: "substring", spec: spec("Vault"), file: "ForgetfulTrialVault.jar", matched: false},
		{name: "suffix stripped exact", spec: spec("LuckPerms-Reloaded"), file: "LuckPerms.jar", matched: true},
		{name: "suffix stripped prefix", spec: spec("CoreProtectV2"), file: "CoreProtect-22.4.jar", matched: true},
		{name: "disabled", spec: spec("Vault"), file: "Vault.jar.DIS", matched: false},
		{name: "partial download", spec: spec("Vault"), file: ".Vault.jar-123.part", matched: false},
		{name: "not a jar", spec: spec("Vault"), file: "Vault-config.yml", matched: false},
		{name: "sanitized name", spec: spec("Essentials X"), file: "Essentials_X.jar", matched: true},
		{
			name:    "filename pattern",
			spec:    plugin.Spec{Name: "EssentialsX", FilenamePattern: `^essentialsx-\d`},
			file:    "EssentialsX-2.20.1.jar",
			matched: true,
		},
		{
			name:    "filename pattern excludes addons",
			spec:    plugin.Spec{Name: "EssentialsX", FilenamePattern: `^essentialsx-\d`},
			file:    "EssentialsXChat-2.20.1.jar",
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := state.NewMatcher(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, m.Match(tt.file))
		})
	}
}

func TestMatcher_Disabled(t *testing.T) {
	t.Parallel()

	m, err := state.NewMatcher(spec("Vault"))
	require.NoError(t, err)

	assert.True(t, m.MatchDisabled("Vault.jar.DIS"))
	assert.False(t, m.MatchDisabled("Vault.jar"))
}

func TestScan_LabelsFromFilenameAndDescriptor(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/prod/EssentialsX-2.20.1.jar", testutil.PluginJAR("EssentialsX", "2.20.1"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prod/Vault.jar", testutil.PluginJAR("Vault", "1.7.3-b131"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prod/Broken.jar", []byte("not a zip"), 0o644))

	s := state.New(state.Opts{Fs: fs, Dir: "/prod"})
	require.NoError(t, s.Scan([]plugin.Spec{spec("EssentialsX"), spec("Vault"), spec("Broken"), spec("WorldEdit")}))

	ess, err := s.Get("EssentialsX")
	require.NoError(t, err)
	require.NotNil(t, ess)
	assert.Equal(t, "2.20.1", ess.Label)
	assert.Equal(t, "/prod/EssentialsX-2.20.1.jar", ess.FilePath)

	hash, err := digest.Fingerprint(fs, "/prod/EssentialsX-2.20.1.jar")
	require.NoError(t, err)
	assert.Equal(t, hash, ess.FileHash)

	vault, err := s.Get("Vault")
	require.NoError(t, err)
	assert.Equal(t, "1.7.3-b131", vault.Label)

	broken, err := s.Get("Broken")
	require.NoError(t, err)
	require.NotNil(t, broken)
	assert.Empty(t, broken.Label)

	missing, err := s.Get("WorldEdit")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScan_Ambiguous(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit-7.2.0.jar", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prod/worldedit-bukkit-7.3.0.jar", []byte("b"), 0o644))

	s := state.New(state.Opts{Fs: fs, Dir: "/prod"})
	require.NoError(t, s.Scan([]plugin.Spec{spec("WorldEdit")}))

	_, err := s.Get("WorldEdit")

	var ae *plugin.AmbiguousInstallError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, []string{"WorldEdit-7.2.0.jar", "worldedit-bukkit-7.3.0.jar"}, ae.Candidates)
	assert.Equal(t, plugin.SeverityWarning, plugin.SeverityOf(err))
}

func TestScan_MissingDirectory(t *testing.T) {
	t.Parallel()

	s := state.New(state.Opts{Fs: afero.NewMemMapFs(), Dir: "/nowhere"})
	require.NoError(t, s.Scan([]plugin.Spec{spec("Vault")}))

	inst, err := s.Get("Vault")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestPut_PersistsAndWinsOnMatchingHash(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	jar := testutil.PluginJAR("WorldEdit", "7.3.0-SNAPSHOT")
	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit.jar", jar, 0o644))

	hash, err := digest.Fingerprint(fs, "/prod/WorldEdit.jar")
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	opts := state.Opts{Fs: fs, Dir: "/prod", Path: "/data/plugin_versions.yaml", Now: func() time.Time { return now }}

	s := state.New(opts)
	s.Put(plugin.Installed{PluginName: "WorldEdit", FilePath: "/prod/WorldEdit.jar", Label: "7.3.0", FileHash: hash})
	require.NoError(t, s.Save())

	rec, ok := s.Record("WorldEdit")
	require.True(t, ok)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Equal(t, "WorldEdit.jar", rec.File)

	reloaded := state.New(opts)
	require.NoError(t, reloaded.Load())
	require.NoError(t, reloaded.Scan([]plugin.Spec{spec("WorldEdit")}))

	inst, err := reloaded.Get("WorldEdit")
	require.NoError(t, err)
	assert.Equal(t, "7.3.0", inst.Label, "persisted label wins over plugin.yml")

	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit.jar", testutil.PluginJAR("WorldEdit", "7.1.0"), 0o644))
	require.NoError(t, reloaded.Scan([]plugin.Spec{spec("WorldEdit")}))

	inst, err = reloaded.Get("WorldEdit")
	require.NoError(t, err)
	assert.Equal(t, "7.1.0", inst.Label, "a replaced file invalidates the record")
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := state.New(state.Opts{Fs: afero.NewMemMapFs(), Dir: "/prod"})
	s.Put(plugin.Installed{PluginName: "Vault", Label: "1.7.3"})

	inst, err := s.Get("Vault")
	require.NoError(t, err)

	inst.Label = "changed"
	inst.SetDigest("sha1", "ab")

	again, err := s.Get("Vault")
	require.NoError(t, err)
	assert.Equal(t, "1.7.3", again.Label)

	s.Remove("Vault")

	gone, err := s.Get("Vault")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestLoad_MissingFileAndDisabledPersistence(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	require.NoError(t, state.New(state.Opts{Fs: fs, Path: "/data/none.yaml"}).Load())

	s := state.New(state.Opts{Fs: fs})
	s.Put(plugin.Installed{PluginName: "Vault"})
	require.NoError(t, s.Save())

	exists, err := afero.Exists(fs, "/data/none.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/v.yaml", []byte("plugins: [1, 2"), 0o644))

	require.Error(t, state.New(state.Opts{Fs: fs, Path: "/data/v.yaml"}).Load())
}

func TestRefresh_RewritesStaleRecords(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := state.New(state.Opts{Fs: fs, Dir: "/prod", Path: "/data/plugin_versions.yaml", Now: func() time.Time { return now }})

	essentials := testutil.PluginJAR("EssentialsX", "2.20.1")
	require.NoError(t, afero.WriteFile(fs, "/prod/EssentialsX-2.20.1.jar", essentials, 0o644))

	essentialsHash, err := digest.Fingerprint(fs, "/prod/EssentialsX-2.20.1.jar")
	require.NoError(t, err)

	s.Put(plugin.Installed{PluginName: "EssentialsX", FilePath: "/prod/EssentialsX-2.20.1.jar", Label: "2.20.1", FileHash: essentialsHash})
	s.Put(plugin.Installed{PluginName: "WorldEdit", FilePath: "/prod/WorldEdit.jar", Label: "7.3.0", FileHash: "blake3:00"})
	s.Put(plugin.Installed{PluginName: "Gone", FilePath: "/prod/Gone.jar", Label: "1.0.0", FileHash: "blake3:11"})

	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit.jar", testutil.PluginJAR("WorldEdit", "7.1.0"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prod/Vault.jar", testutil.PluginJAR("Vault", "1.7.3"), 0o644))

	specs := []plugin.Spec{spec("EssentialsX"), spec("WorldEdit"), spec("Vault"), spec("Gone")}
	require.NoError(t, s.Scan(specs))

	changed := s.Refresh(specs)
	assert.Equal(t, []string{"Gone", "Vault", "WorldEdit"}, changed)

	rec, ok := s.Record("WorldEdit")
	require.True(t, ok)
	assert.Equal(t, "7.1.0", rec.Version)

	rec, ok = s.Record("Vault")
	require.True(t, ok)
	assert.Equal(t, "1.7.3", rec.Version)
	assert.Equal(t, "Vault.jar", rec.File)

	_, ok = s.Record("Gone")
	assert.False(t, ok)

	rec, ok = s.Record("EssentialsX")
	require.True(t, ok)
	assert.Equal(t, essentialsHash, rec.Hash)

	assert.Empty(t, s.Refresh(specs), "a second refresh changes nothing")
}

func TestRefresh_KeepsAmbiguousRecords(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := state.New(state.Opts{Fs: fs, Dir: "/prod"})
	s.Put(plugin.Installed{PluginName: "WorldEdit", FilePath: "/prod/WorldEdit.jar", Label: "7.2.0", FileHash: "blake3:00"})

	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit-7.2.0.jar", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/prod/WorldEdit-7.3.0.jar", []byte("b"), 0o644))

	specs := []plugin.Spec{spec("WorldEdit")}
	require.NoError(t, s.Scan(specs))

	assert.Empty(t, s.Refresh(specs))

	rec, ok := s.Record("WorldEdit")
	require.True(t, ok)
	assert.Equal(t, "7.2.0", rec.Version)
}
