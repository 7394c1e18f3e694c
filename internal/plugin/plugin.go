// Package plugin defines the domain model shared by the sync engine and its collaborators.
package plugin

import (
	"strings"
	"time"
)

// SourceType identifies the remote system a plugin is updated from.
type SourceType string

// Supported source types.
const (
	SourceSpigot     SourceType = "spigot"
	SourceModrinth   SourceType = "modrinth"
	SourceGitHub     SourceType = "github"
	SourceCurseForge SourceType = "curseforge"
	SourceJenkins    SourceType = "jenkins"
	SourceWeb        SourceType = "web"
)

// SourceTypes lists every supported source type in a stable order.
func SourceTypes() []SourceType {
	return []SourceType{
		SourceSpigot,
		SourceModrinth,
		SourceGitHub,
		SourceCurseForge,
		SourceJenkins,
		SourceWeb,
	}
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	for _, s := range SourceTypes() {
		if s == t {
			return true
		}
	}

	return false
}

// Auth holds Jenkins basic-auth credentials.
type Auth struct {
	Username string
	APIToken string
}

// Spec is the resolved, immutable description of one managed plugin.
type Spec struct {
	Name            string
	Source          SourceType
	Enabled         bool
	DisableOnTest   bool
	TargetMCVersion string
	FilenamePattern string

	// Spigot.
	ResourceID string
	// Modrinth.
	ProjectSlug string
	// GitHub.
	RepoSlug     string
	AssetPattern string
	// CurseForge.
	ProjectID string
	// Jenkins.
	JenkinsURL      string
	JobName         string
	ArtifactPattern string
	Auth            *Auth
	// Web.
	ManifestURL string
}

// FileBase returns the canonical installed file name for the plugin.
func (s *Spec) FileBase() string {
	return SanitizeName(s.Name) + ".jar"
}

// ResolvedVersion is the latest release metadata reported by a source.
type ResolvedVersion struct {
	PluginName  string
	Label       string
	DownloadURL string
	PublishedAt time.Time
	// Checksum is "algo:hex" when the source publishes one.
	Checksum string
	// Filename is the asset name as published, if known.
	Filename string
	// Headers are sent with the artifact download.
	Headers map[string]string
	// FollowRedirects marks URLs that point at a landing page or redirector
	// rather than the artifact itself.
	FollowRedirects bool
}

// Installed is the on-disk state of a managed plugin.
type Installed struct {
	PluginName string
	FilePath   string
	// Label is empty when the installed version could not be determined.
	Label    string
	FileHash string
	// Digests caches additional "algo" -> hex digests of the installed file.
	Digests map[string]string
}

// Digest returns the cached digest for algo, if any.
func (i *Installed) Digest(algo string) (string, bool) {
	if i == nil || i.Digests == nil {
		return "", false
	}

	d, ok := i.Digests[strings.ToLower(algo)]

	return d, ok
}

// SetDigest caches a digest of the installed file.
func (i *Installed) SetDigest(algo, hex string) {
	if i.Digests == nil {
		i.Digests = make(map[string]string)
	}

	i.Digests[strings.ToLower(algo)] = strings.ToLower(hex)
}

// BackupRecord describes one snapshot in the backup directory.
type BackupRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	PluginName  string    `json:"plugin"`
	ArchivePath string    `json:"archive_path"`
	SizeBytes   int64     `json:"size_bytes"`
}

// SanitizeName maps a plugin name onto a safe file name component.
func SanitizeName(name string) string {
	var b strings.Builder

	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	if b.Len() == 0 {
		return "plugin"
	}

	return b.String()
}
