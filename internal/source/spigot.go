package source

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// DefaultSpigetBaseURL is the public Spiget API mirror of SpigotMC.
const DefaultSpigetBaseURL = "https://api.spiget.org/v2"

// Spigot resolves SpigotMC resources through the Spiget API. SpigotMC does not
// expose direct artifact URLs, so results always require redirect resolution.
type Spigot struct {
	client
	base string
}

var _ Adapter = (*Spigot)(nil)

// NewSpigot returns the Spigot adapter.
func NewSpigot(opts Options) *Spigot {
	return &Spigot{
		client: newClient(plugin.SourceSpigot, opts),
		base:   orDefault(opts.SpigetBaseURL, DefaultSpigetBaseURL),
	}
}

// Type implements Adapter.
func (s *Spigot) Type() plugin.SourceType { return plugin.SourceSpigot }

type spigetResource struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	External bool   `json:"external"`
	File     struct {
		Type        string `json:"type"`
		URL         string `json:"url"`
		ExternalURL string `json:"externalUrl"`
	} `json:"file"`
	Premium bool `json:"premium"`
}

type spigetVersion struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ReleaseDate int64  `json:"releaseDate"`
}

// FetchLatest implements Adapter.
func (s *Spigot) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	id := url.PathEscape(spec.ResourceID)

	var res spigetResource
	if err := s.getJSON(ctx, s.base+"/resources/"+id, nil, &res); err != nil {
		return nil, err
	}

	if res.Premium {
		return nil, plugin.NewSourceError(plugin.SourceSpigot, plugin.KindNotFound,
			"resource %s is premium and cannot be downloaded", spec.ResourceID)
	}

	var ver spigetVersion
	if err := s.getJSON(ctx, s.base+"/resources/"+id+"/versions/latest", nil, &ver); err != nil {
		return nil, err
	}

	label := strings.TrimSpace(ver.Name)
	if label == "" {
		label = strconv.Itoa(ver.ID)
	}

	rv := &plugin.ResolvedVersion{
		Label:           trimV(label),
		DownloadURL:     s.base + "/resources/" + id + "/download",
		FollowRedirects: true,
	}

	if res.External && res.File.ExternalURL != "" {
		rv.DownloadURL = res.File.ExternalURL
	}

	if ver.ReleaseDate > 0 {
		rv.PublishedAt = time.Unix(ver.ReleaseDate, 0).UTC()
	}

	return rv, nil
}
