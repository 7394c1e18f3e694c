package source

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"time"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/plugin"
)

// DefaultModrinthBaseURL is the Modrinth v2 API.
const DefaultModrinthBaseURL = "https://api.modrinth.com/v2"

// serverLoaders are the Modrinth loaders a Bukkit-family server can run.
var serverLoaders = []string{"paper", "purpur", "spigot", "bukkit", "folia"}

// Modrinth resolves Modrinth projects by slug.
type Modrinth struct {
	client
	base string
}

var _ Adapter = (*Modrinth)(nil)

// NewModrinth returns the Modrinth adapter.
func NewModrinth(opts Options) *Modrinth {
	return &Modrinth{
		client: newClient(plugin.SourceModrinth, opts),
		base:   orDefault(opts.ModrinthBaseURL, DefaultModrinthBaseURL),
	}
}

// Type implements Adapter.
func (m *Modrinth) Type() plugin.SourceType { return plugin.SourceModrinth }

type modrinthVersion struct {
	ID            string         `json:"id"`
	VersionNumber string         `json:"version_number"`
	VersionType   string         `json:"version_type"`
	GameVersions  []string       `json:"game_versions"`
	Loaders       []string       `json:"loaders"`
	DatePublished time.Time      `json:"date_published"`
	Files         []modrinthFile `json:"files"`
}

type modrinthFile struct {
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Primary  bool              `json:"primary"`
	Hashes   map[string]string `json:"hashes"`
}

// FetchLatest implements Adapter.
func (m *Modrinth) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	q := url.Values{}

	loaders, err := json.Marshal(serverLoaders)
	if err != nil {
		return nil, err
	}

	q.Set("loaders", string(loaders))

	if spec.TargetMCVersion != "" {
		gv, err := json.Marshal([]string{spec.TargetMCVersion})
		if err != nil {
			return nil, err
		}

		q.Set("game_versions", string(gv))
	}

	endpoint := m.base + "/project/" + url.PathEscape(spec.ProjectSlug) + "/version?" + q.Encode()

	var versions []modrinthVersion
	if err := m.getJSON(ctx, endpoint, nil, &versions); err != nil {
		return nil, err
	}

	var best *modrinthVersion

	for i := range versions {
		v := &versions[i]
		if len(v.Files) == 0 {
			continue
		}

		if spec.TargetMCVersion != "" && !slices.Contains(v.GameVersions, spec.TargetMCVersion) {
			continue
		}

		if best == nil || v.DatePublished.After(best.DatePublished) {
			best = v
		}
	}

	if best == nil {
		if spec.TargetMCVersion != "" {
			return nil, plugin.NewSourceError(plugin.SourceModrinth, plugin.KindNotFound,
				"no version of %s for Minecraft %s", spec.ProjectSlug, spec.TargetMCVersion)
		}

		return nil, plugin.NewSourceError(plugin.SourceModrinth, plugin.KindNotFound, "no versions of %s", spec.ProjectSlug)
	}

	file := &best.Files[0]

	for i := range best.Files {
		if best.Files[i].Primary {
			file = &best.Files[i]

			break
		}
	}

	rv := &plugin.ResolvedVersion{
		Label:       trimV(best.VersionNumber),
		DownloadURL: file.URL,
		PublishedAt: best.DatePublished,
		Filename:    file.Filename,
	}

	if h := file.Hashes[digest.SHA512]; h != "" {
		rv.Checksum = digest.Format(digest.SHA512, h)
	} else if h := file.Hashes[digest.SHA1]; h != "" {
		rv.Checksum = digest.Format(digest.SHA1, h)
	}

	return rv, nil
}
