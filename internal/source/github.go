package source

import (
	"context"
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// DefaultGitHubBaseURL is the GitHub REST API.
const DefaultGitHubBaseURL = "https://api.github.com"

// GitHub resolves release assets of a repository.
type GitHub struct {
	client
	base  string
	token string
}

var _ Adapter = (*GitHub)(nil)

// NewGitHub returns the GitHub adapter.
func NewGitHub(opts Options) *GitHub {
	return &GitHub{
		client: newClient(plugin.SourceGitHub, opts),
		base:   orDefault(opts.GitHubBaseURL, DefaultGitHubBaseURL),
		token:  opts.GitHubToken,
	}
}

// Type implements Adapter.
func (g *GitHub) Type() plugin.SourceType { return plugin.SourceGitHub }

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Draft       bool          `json:"draft"`
	Prerelease  bool          `json:"prerelease"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Digest             string `json:"digest"`
}

// FetchLatest implements Adapter.
func (g *GitHub) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}

	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	var releases []githubRelease
	if err := g.getJSON(ctx, g.base+"/repos/"+spec.RepoSlug+"/releases?per_page=30", headers, &releases); err != nil {
		return nil, err
	}

	var latest *githubRelease

	for i := range releases {
		r := &releases[i]
		if r.Draft {
			continue
		}

		if latest == nil || r.PublishedAt.After(latest.PublishedAt) {
			latest = r
		}
	}

	if latest == nil {
		return nil, plugin.NewSourceError(plugin.SourceGitHub, plugin.KindNotFound, "no published releases in %s", spec.RepoSlug)
	}

	names := make([]string, len(latest.Assets))
	for i := range latest.Assets {
		names[i] = latest.Assets[i].Name
	}

	idx, err := pickNamed(plugin.SourceGitHub, names, spec.AssetPattern, spec.FilenamePattern)
	if err != nil {
		return nil, err
	}

	asset := &latest.Assets[idx]

	return &plugin.ResolvedVersion{
		Label:       trimV(latest.TagName),
		DownloadURL: asset.BrowserDownloadURL,
		PublishedAt: latest.PublishedAt,
		Checksum:    asset.Digest,
		Filename:    asset.Name,
	}, nil
}
