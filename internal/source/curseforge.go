package source

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/version"
)

// DefaultCurseForgeBaseURL is the CurseForge core API.
const DefaultCurseForgeBaseURL = "https://api.curseforge.com"

// CurseForge hash algorithm ids.
const (
	cfHashSHA1 = 1
	cfHashMD5  = 2
)

// CurseForge resolves project files by numeric project id.
type CurseForge struct {
	client
	base   string
	apiKey string
}

var _ Adapter = (*CurseForge)(nil)

// NewCurseForge returns the CurseForge adapter.
func NewCurseForge(opts Options) *CurseForge {
	return &CurseForge{
		client: newClient(plugin.SourceCurseForge, opts),
		base:   orDefault(opts.CurseForgeBaseURL, DefaultCurseForgeBaseURL),
		apiKey: opts.CurseForgeAPIKey,
	}
}

// Type implements Adapter.
func (c *CurseForge) Type() plugin.SourceType { return plugin.SourceCurseForge }

type curseForgeFiles struct {
	Data []curseForgeFile `json:"data"`
}

type curseForgeFile struct {
	ID           int       `json:"id"`
	DisplayName  string    `json:"displayName"`
	FileName     string    `json:"fileName"`
	FileDate     time.Time `json:"fileDate"`
	DownloadURL  *string   `json:"downloadUrl"`
	GameVersions []string  `json:"gameVersions"`
	IsAvailable  *bool     `json:"isAvailable"`
	Hashes       []struct {
		Value string `json:"value"`
		Algo  int    `json:"algo"`
	} `json:"hashes"`
}

// FetchLatest implements Adapter.
func (c *CurseForge) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	q := url.Values{}
	q.Set("pageSize", "50")

	if spec.TargetMCVersion != "" {
		q.Set("gameVersion", spec.TargetMCVersion)
	}

	endpoint := c.base + "/v1/mods/" + url.PathEscape(spec.ProjectID) + "/files?" + q.Encode()
	headers := map[string]string{"Accept": "application/json", "x-api-key": c.apiKey}

	var files curseForgeFiles
	if err := c.getJSON(ctx, endpoint, headers, &files); err != nil {
		return nil, err
	}

	var best *curseForgeFile

	for i := range files.Data {
		f := &files.Data[i]
		if f.IsAvailable != nil && !*f.IsAvailable {
			continue
		}

		if spec.TargetMCVersion != "" && !slices.Contains(f.GameVersions, spec.TargetMCVersion) {
			continue
		}

		if best == nil || f.FileDate.After(best.FileDate) {
			best = f
		}
	}

	if best == nil {
		return nil, plugin.NewSourceError(plugin.SourceCurseForge, plugin.KindNotFound,
			"no files for project %s matching Minecraft %q", spec.ProjectID, spec.TargetMCVersion)
	}

	label, ok := version.ParseInstalledVersion(best.FileName)
	if !ok {
		label = best.DisplayName
	}

	if label == "" {
		label = strconv.Itoa(best.ID)
	}

	rv := &plugin.ResolvedVersion{
		Label:       trimV(label),
		DownloadURL: edgeURL(best),
		PublishedAt: best.FileDate,
		Filename:    best.FileName,
	}

	for _, h := range best.Hashes {
		switch h.Algo {
		case cfHashSHA1:
			rv.Checksum = digest.Format(digest.SHA1, h.Value)
		case cfHashMD5:
			if rv.Checksum == "" {
				rv.Checksum = digest.Format(digest.MD5, h.Value)
			}
		}
	}

	return rv, nil
}

// edgeURL returns the file's download URL, or the CDN location when the
// author disabled third-party distribution and the API omits it.
func edgeURL(f *curseForgeFile) string {
	if f.DownloadURL != nil && *f.DownloadURL != "" {
		return *f.DownloadURL
	}

	return fmt.Sprintf("https://edge.forgecdn.net/files/%d/%d/%s", f.ID/1000, f.ID%1000, url.PathEscape(f.FileName))
}
