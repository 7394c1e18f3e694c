package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// validCompression are the accepted BACKUP_COMPRESSION values.
var validCompression = map[string]bool{
	"none": true,
	"zstd": true,
	"xz":   true,
}

var repoSlugPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ValidatePlugins checks every entry and returns one message per problem.
func ValidatePlugins(entries []PluginEntry) []string {
	var problems []string

	seen := make(map[string]int, len(entries))

	for i := range entries {
		e := &entries[i]

		label := fmt.Sprintf("plugins[%d]", i)
		if name := strings.TrimSpace(e.Name); name != "" {
			label = fmt.Sprintf("plugins[%d] (%s)", i, name)

			key := strings.ToLower(name)
			if prev, ok := seen[key]; ok {
				problems = append(problems, fmt.Sprintf("%s: duplicate name, already used by plugins[%d]", label, prev))
			} else {
				seen[key] = i
			}
		} else {
			problems = append(problems, label+": name is required")
		}

		for _, msg := range validateEntry(e) {
			problems = append(problems, label+": "+msg)
		}
	}

	return problems
}

func validateEntry(e *PluginEntry) []string {
	var problems []string

	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, field+" is required for type "+e.Type)
		}
	}

	switch plugin.SourceType(e.Type) {
	case plugin.SourceSpigot:
		require("resourceId", string(e.ResourceID))
	case plugin.SourceModrinth:
		require("projectSlug", e.ProjectSlug)
	case plugin.SourceGitHub:
		require("repoSlug", e.RepoSlug)

		if e.RepoSlug != "" && !repoSlugPattern.MatchString(e.RepoSlug) {
			problems = append(problems, fmt.Sprintf("repoSlug %q must be in owner/repo form", e.RepoSlug))
		}
	case plugin.SourceCurseForge:
		require("projectId", string(e.ProjectID))
	case plugin.SourceJenkins:
		require("jenkinsUrl", e.JenkinsURL)
		require("jobName", e.JobName)

		if e.JenkinsURL != "" {
			if msg := checkHTTPURL("jenkinsUrl", e.JenkinsURL); msg != "" {
				problems = append(problems, msg)
			}
		}

		if e.Auth != nil && (e.Auth.Username == "" || e.Auth.APIToken == "") {
			problems = append(problems, "auth requires both username and apiToken")
		}
	case plugin.SourceWeb:
		require("manifestUrl", e.ManifestURL)

		if e.ManifestURL != "" {
			if msg := checkHTTPURL("manifestUrl", e.ManifestURL); msg != "" {
				problems = append(problems, msg)
			}
		}
	case "":
		problems = append(problems, "type is required")
	default:
		problems = append(problems, fmt.Sprintf("unknown type %q", e.Type))
	}

	patterns := []struct{ field, value string }{
		{"filenamePattern", e.FilenamePattern},
		{"assetPattern", e.AssetPattern},
		{"artifactPattern", e.ArtifactPattern},
	}

	for _, p := range patterns {
		if p.value == "" {
			continue
		}

		if _, err := regexp.Compile(p.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid regular expression", p.field, p.value))
		}
	}

	return problems
}

func checkHTTPURL(field, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Sprintf("%s %q must be an http(s) URL", field, raw)
	}

	return ""
}

// ValidateEnv checks the environment settings.
func ValidateEnv(e *Env) []string {
	var problems []string

	if strings.TrimSpace(e.ProdServerPath) == "" {
		problems = append(problems, "PROD_SERVER_PATH is required")
	}

	if strings.TrimSpace(e.TestServerPath) == "" {
		problems = append(problems, "TEST_SERVER_PATH is required")
	}

	if e.ProdServerPath != "" && filepath.Clean(e.ProdServerPath) == filepath.Clean(e.TestServerPath) {
		problems = append(problems, "PROD_SERVER_PATH and TEST_SERVER_PATH must differ")
	}

	if e.MaxBackups < 0 {
		problems = append(problems, "MAX_BACKUPS must not be negative")
	}

	if e.MaxBackupDays < 0 || e.MaxLogDays < 0 {
		problems = append(problems, "MAX_BACKUP_DAYS and MAX_LOG_DAYS must not be negative")
	}

	if e.APITimeout < 0 || e.DownloadTimeout < 0 {
		problems = append(problems, "API_TIMEOUT and DOWNLOAD_TIMEOUT must not be negative")
	}

	if e.DownloadThreads < 0 || e.ResolveWorkers < 0 {
		problems = append(problems, "DOWNLOAD_THREADS and RESOLVE_WORKERS must not be negative")
	}

	if e.MaxDownloadMB < 0 {
		problems = append(problems, "MAX_DOWNLOAD_MB must not be negative")
	}

	if c := strings.ToLower(e.BackupCompression); c != "" && !validCompression[c] {
		problems = append(problems, fmt.Sprintf("BACKUP_COMPRESSION %q must be one of: none, zstd, xz", e.BackupCompression))
	}

	return problems
}
