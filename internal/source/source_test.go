package source_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/source"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// newRegistry points every hosted API at srv.
func newRegistry(srv *httptest.Server) *source.Registry {
	return source.NewRegistry(source.Options{
		Timeout:           2 * time.Second,
		GitHubToken:       "ghp_test",
		CurseForgeAPIKey:  "cf_test",
		SpigetBaseURL:     srv.URL + "/spiget",
		ModrinthBaseURL:   srv.URL + "/modrinth",
		GitHubBaseURL:     srv.URL + "/github",
		CurseForgeBaseURL: srv.URL + "/curseforge",
	})
}

func TestSpigot_Hosted(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/spiget/resources/9089", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": 9089, "name": "EssentialsX", "external": false})
	})
	mux.HandleFunc("/spiget/resources/9089/versions/latest", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": 555, "name": "2.20.1", "releaseDate": 1700000000})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := &plugin.Spec{Name: "EssentialsX", Source: plugin.SourceSpigot, ResourceID: "9089"}

	rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.NoError(t, err)

	assert.Equal(t, "EssentialsX", rv.PluginName)
	assert.Equal(t, "2.20.1", rv.Label)
	assert.Equal(t, srv.URL+"/spiget/resources/9089/download", rv.DownloadURL)
	assert.True(t, rv.FollowRedirects)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rv.PublishedAt)
}

func TestSpigot_ExternalAndIDFallback(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/spiget/resources/1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"id": 1, "external": true,
			"file": map[string]any{"type": "external", "externalUrl": "https://example.org/dl/Foo.jar"},
		})
	})
	mux.HandleFunc("/spiget/resources/1/versions/latest", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"id": 42})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	rv, err := newRegistry(srv).FetchLatest(t.Context(), &plugin.Spec{Name: "Foo", Source: plugin.SourceSpigot, ResourceID: "1"})
	require.NoError(t, err)

	assert.Equal(t, "42", rv.Label)
	assert.Equal(t, "https://example.org/dl/Foo.jar", rv.DownloadURL)
	assert.True(t, rv.FollowRedirects)
}

func TestSpigot_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newRegistry(srv).FetchLatest(t.Context(), &plugin.Spec{Name: "Gone", Source: plugin.SourceSpigot, ResourceID: "404"})
	require.Error(t, err)
	assert.True(t, plugin.IsSourceKind(err, plugin.KindNotFound))
}

func TestModrinth_FiltersByGameVersionAndPicksPrimary(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/modrinth/project/luckperms/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["1.21.1"]`, r.URL.Query().Get("game_versions"))
		assert.Contains(t, r.URL.Query().Get("loaders"), `"paper"`)

		writeJSON(t, w, []map[string]any{
			{
				"version_number": "5.4.140", "game_versions": []string{"1.21.1"},
				"date_published": "2024-08-01T00:00:00Z",
				"files": []map[string]any{
					{"url": "https://cdn/sources.jar", "filename": "sources.jar", "primary": false},
					{
						"url": "https://cdn/LuckPerms-Bukkit-5.4.140.jar", "filename": "LuckPerms-Bukkit-5.4.140.jar",
						"primary": true, "hashes": map[string]string{"sha1": "abc1", "sha512": "def5"},
					},
				},
			},
			{
				"version_number": "5.4.150", "game_versions": []string{"1.21.3"},
				"date_published": "2024-10-01T00:00:00Z",
				"files": []map[string]any{{"url": "https://cdn/new.jar", "filename": "new.jar", "primary": true}},
			},
			{
				"version_number": "5.4.100", "game_versions": []string{"1.21.1"},
				"date_published": "2024-01-01T00:00:00Z",
				"files": []map[string]any{{"url": "https://cdn/old.jar", "filename": "old.jar", "primary": true}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := &plugin.Spec{Name: "LuckPerms", Source: plugin.SourceModrinth, ProjectSlug: "luckperms", TargetMCVersion: "1.21.1"}

	rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.NoError(t, err)

	assert.Equal(t, "5.4.140", rv.Label)
	assert.Equal(t, "https://cdn/LuckPerms-Bukkit-5.4.140.jar", rv.DownloadURL)
	assert.Equal(t, "sha512:def5", rv.Checksum)
	assert.Equal(t, "LuckPerms-Bukkit-5.4.140.jar", rv.Filename)
}

func TestModrinth_NoMatchingVersion(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/modrinth/project/x/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []any{})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newRegistry(srv).FetchLatest(t.Context(), &plugin.Spec{Name: "X", Source: plugin.SourceModrinth, ProjectSlug: "x", TargetMCVersion: "1.8"})
	require.Error(t, err)
	assert.True(t, plugin.IsSourceKind(err, plugin.KindNotFound))
	assert.Contains(t, err.Error(), "Minecraft 1.8")
}

func githubReleases(t *testing.T, assets ...string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))

		list := make([]map[string]any, 0, len(assets))
		for _, a := range assets {
			list = append(list, map[string]any{
				"name":                 a,
				"browser_download_url": "https://github.example/dl/" + a,
				"digest":               "sha256:" + "ab",
			})
		}

		writeJSON(t, w, []map[string]any{
			{"tag_name": "v7.4.0-beta", "draft": true, "published_at": "2024-12-01T00:00:00Z", "assets": list},
			{"tag_name": "v7.3.0", "draft": false, "published_at": "2024-06-01T00:00:00Z", "assets": list},
			{"tag_name": "v7.2.0", "draft": false, "published_at": "2024-01-01T00:00:00Z", "assets": list},
		})
	}
}

func TestGitHub_NewestNonDraftRelease(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/github/repos/EngineHub/WorldEdit/releases", githubReleases(t,
		"worldedit-bukkit-7.3.0.jar", "worldedit-fabric-7.3.0.jar", "checksums.txt"))

	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := &plugin.Spec{
		Name: "WorldEdit", Source: plugin.SourceGitHub,
		RepoSlug: "EngineHub/WorldEdit", AssetPattern: `worldedit-bukkit-.*\.jar`,
	}

	rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.NoError(t, err)

	assert.Equal(t, "7.3.0", rv.Label)
	assert.Equal(t, "https://github.example/dl/worldedit-bukkit-7.3.0.jar", rv.DownloadURL)
	assert.Equal(t, "sha256:ab", rv.Checksum)
}

func TestGitHub_AssetSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		assets  []string
		pattern string
		primary string
		want    string
		kind    plugin.SourceErrorKind
	}{
		{name: "single asset without pattern", assets: []string{"plugin.zip"}, want: "plugin.zip"},
		{name: "single jar among others", assets: []string{"README.md", "Plugin-1.0.jar"}, want: "Plugin-1.0.jar"},
		{name: "ambiguous pattern", assets: []string{"a-1.jar", "b-1.jar"}, pattern: `.*\.jar`, kind: plugin.KindAmbiguousAsset},
		{
			name: "primary resolves ambiguity", assets: []string{"Plugin-paper.jar", "Plugin-folia.jar"},
			pattern: `\.jar$`, primary: "paper", want: "Plugin-paper.jar",
		},
		{name: "no match", assets: []string{"a.zip"}, pattern: `\.jar$`, kind: plugin.KindNotFound},
		{name: "no assets", assets: nil, kind: plugin.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("/github/repos/o/r/releases", githubReleases(t, tt.assets...))

			srv := httptest.NewServer(mux)
			defer srv.Close()

			spec := &plugin.Spec{
				Name: "P", Source: plugin.SourceGitHub, RepoSlug: "o/r",
				AssetPattern: tt.pattern, FilenamePattern: tt.primary,
			}

			rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
			if tt.kind != "" {
				require.Error(t, err)
				assert.True(t, plugin.IsSourceKind(err, tt.kind), err.Error())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, rv.Filename)
		})
	}
}

func TestGitHub_RateLimitedIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newRegistry(srv).FetchLatest(t.Context(), &plugin.Spec{Name: "P", Source: plugin.SourceGitHub, RepoSlug: "o/r"})
	require.Error(t, err)

	var fetchErr *plugin.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusForbidden, fetchErr.Status)
}

func TestCurseForge_NewestMatchingFile(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/curseforge/v1/mods/31620/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cf_test", r.Header.Get("x-api-key"))
		assert.Equal(t, "1.21.1", r.URL.Query().Get("gameVersion"))

		writeJSON(t, w, map[string]any{"data": []map[string]any{
			{
				"id": 5123456, "displayName": "Dynmap 3.7", "fileName": "Dynmap-3.7-beta-6-spigot.jar",
				"fileDate": "2024-09-01T00:00:00Z", "downloadUrl": nil, "gameVersions": []string{"1.21.1"},
				"hashes": []map[string]any{{"value": "md5sum", "algo": 2}, {"value": "sha1sum", "algo": 1}},
			},
			{
				"id": 5000000, "displayName": "Dynmap 3.6", "fileName": "Dynmap-3.6-spigot.jar",
				"fileDate": "2024-01-01T00:00:00Z", "downloadUrl": "https://cdn/old.jar", "gameVersions": []string{"1.21.1"},
			},
			{
				"id": 5999999, "displayName": "Dynmap 3.8", "fileName": "Dynmap-3.8-spigot.jar",
				"fileDate": "2024-12-01T00:00:00Z", "downloadUrl": "https://cdn/new.jar", "gameVersions": []string{"1.21.4"},
			},
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := &plugin.Spec{Name: "Dynmap", Source: plugin.SourceCurseForge, ProjectID: "31620", TargetMCVersion: "1.21.1"}

	rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.NoError(t, err)

	assert.Equal(t, "3.7", rv.Label)
	assert.Equal(t, "https://edge.forgecdn.net/files/5123/456/Dynmap-3.7-beta-6-spigot.jar", rv.DownloadURL)
	assert.Equal(t, "sha1:sha1sum", rv.Checksum)
}

func TestJenkins_LastSuccessfulBuild(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/job/Geyser/job/master/lastSuccessfulBuild/api/json", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "t0k", pass)

		writeJSON(t, w, map[string]any{
			"number": 1234, "url": srv.URL + "/job/Geyser/job/master/1234/", "timestamp": 1700000000000,
			"artifacts": []map[string]any{
				{"fileName": "Geyser-Spigot.jar", "relativePath": "bootstrap/spigot/build/libs/Geyser-Spigot.jar"},
				{"fileName": "Geyser-Velocity.jar", "relativePath": "bootstrap/velocity/build/libs/Geyser-Velocity.jar"},
			},
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	spec := &plugin.Spec{
		Name: "Geyser", Source: plugin.SourceJenkins,
		JenkinsURL: srv.URL, JobName: "Geyser/master", ArtifactPattern: "Spigot",
		Auth: &plugin.Auth{Username: "bot", APIToken: "t0k"},
	}

	rv, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.NoError(t, err)

	assert.Equal(t, "build-1234", rv.Label)
	assert.Equal(t, srv.URL+"/job/Geyser/job/master/1234/artifact/bootstrap/spigot/build/libs/Geyser-Spigot.jar", rv.DownloadURL)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), rv.PublishedAt)
	assert.Contains(t, rv.Headers["Authorization"], "Basic ")
}

func TestJenkins_JobRenamedIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	spec := &plugin.Spec{Name: "Old", Source: plugin.SourceJenkins, JenkinsURL: srv.URL, JobName: "renamed"}

	_, err := newRegistry(srv).FetchLatest(t.Context(), spec)
	require.Error(t, err)
	assert.True(t, plugin.IsSourceKind(err, plugin.KindNotFound))
}

func TestJobURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://ci.example.org/job/a/job/b", source.JobURL("https://ci.example.org/", "/a/b/"))
	assert.Equal(t, "https://ci/job/my%20job", source.JobURL("https://ci", "my job"))
}

func TestWeb_Manifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		label   string
		url     string
		sum     string
		wantErr bool
	}{
		{
			name:  "canonical",
			body:  `{"version":"1.4.2","downloadUrl":"https://x/p.jar","checksum":"sha256:ff","publishedAt":"2024-05-01T00:00:00Z"}`,
			label: "1.4.2", url: "https://x/p.jar", sum: "sha256:ff",
		},
		{name: "url alias and numeric version", body: `{"version":3,"url":"https://x/p.jar","sha256":"aa"}`, label: "3", url: "https://x/p.jar", sum: "sha256:aa"},
		{name: "missing url", body: `{"version":"1.0"}`, wantErr: true},
		{name: "missing version", body: `{"downloadUrl":"https://x/p.jar"}`, wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "not json", body: `<html></html>`, wantErr: true},
		{name: "version object", body: `{"version":{"major":1},"downloadUrl":"https://x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rv, err := newRegistry(srv).FetchLatest(t.Context(), &plugin.Spec{Name: "W", Source: plugin.SourceWeb, ManifestURL: srv.URL})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, plugin.IsSourceKind(err, plugin.KindSchemaMismatch), err.Error())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.label, rv.Label)
			assert.Equal(t, tt.url, rv.DownloadURL)
			assert.Equal(t, tt.sum, rv.Checksum)
		})
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	t.Parallel()

	r := source.NewRegistry(source.Options{})

	_, err := r.FetchLatest(t.Context(), &plugin.Spec{Name: "H", Source: "hangar"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter registered")
}
