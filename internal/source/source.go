// Package source resolves the latest release of a plugin from its update
// source. There is one Adapter per plugin.SourceType.
package source

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/httpclient"
	"github.com/NindroidA/pluginator/internal/plugin"
)

// maxAPIBody caps API and manifest responses.
const maxAPIBody = 8 << 20

// Adapter fetches the latest release metadata for one source type. Adapters
// read the network only and never retry.
type Adapter interface {
	Type() plugin.SourceType
	FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error)
}

// Options configures the built-in adapters.
type Options struct {
	Client  httpclient.Client
	Timeout time.Duration
	Logger  *slog.Logger

	GitHubToken      string
	CurseForgeAPIKey string

	// Base URL overrides, used by tests and mirrors.
	SpigetBaseURL     string
	ModrinthBaseURL   string
	GitHubBaseURL     string
	CurseForgeBaseURL string
}

// Registry dispatches specs to the adapter for their source type.
type Registry struct {
	adapters map[plugin.SourceType]Adapter
}

// NewRegistry returns a registry with all six adapters registered.
func NewRegistry(opts Options) *Registry {
	if opts.Client == nil {
		opts.Client = httpclient.New()
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Registry{adapters: make(map[plugin.SourceType]Adapter)}

	r.Register(NewSpigot(opts))
	r.Register(NewModrinth(opts))
	r.Register(NewGitHub(opts))
	r.Register(NewCurseForge(opts))
	r.Register(NewJenkins(opts))
	r.Register(NewWeb(opts))

	return r
}

// Register adds or replaces the adapter for its source type.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// For returns the adapter for t.
func (r *Registry) For(t plugin.SourceType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, errors.Newf("no adapter registered for source type %q", t)
	}

	return a, nil
}

// FetchLatest resolves spec with the adapter for its source type.
func (r *Registry) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	a, err := r.For(spec.Source)
	if err != nil {
		return nil, err
	}

	rv, err := a.FetchLatest(ctx, spec)
	if err != nil {
		return nil, err
	}

	rv.PluginName = spec.Name

	return rv, nil
}

// client bundles what every adapter needs to make a request.
type client struct {
	src     plugin.SourceType
	http    httpclient.Client
	timeout time.Duration
	logger  *slog.Logger
}

func newClient(src plugin.SourceType, opts Options) client {
	c := client{src: src, http: opts.Client, timeout: opts.Timeout, logger: opts.Logger}
	if c.http == nil {
		c.http = httpclient.New()
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// getJSON fetches url and decodes the JSON body into v. 404 maps to a
// not-found SourceError, other non-2xx statuses to a FetchError and
// undecodable bodies to a schema-mismatch SourceError.
func (c client) getJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	c.logger.Debug("querying source", "source", c.src, "url", url)

	resp, err := c.http.Get(ctx, url, headers, c.timeout)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Status == http.StatusNotFound {
		return plugin.NewSourceError(c.src, plugin.KindNotFound, "%s returned 404", url)
	}

	if resp.Status < 200 || resp.Status > 299 {
		return &plugin.FetchError{URL: url, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody+1))
	if err != nil {
		return err
	}

	if len(body) > maxAPIBody {
		return &plugin.FetchError{URL: url, TooLarge: true}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &plugin.SourceError{
			Kind:   plugin.KindSchemaMismatch,
			Source: c.src,
			Detail: "decoding response from " + url,
			Err:    err,
		}
	}

	return nil
}

// compilePattern compiles a case-insensitive filename pattern. Patterns are
// validated with the configuration, so a failure here is unexpected.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling pattern %q", pattern)
	}

	return re, nil
}

// isJar reports whether name looks like a plugin JAR.
func isJar(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".jar")
}

// pickNamed chooses one of names and returns its index. With a pattern only
// matching names are considered; without one, a single candidate is used as is
// and several are narrowed to JARs when any exist. When more than one remains,
// the one matching the plugin's filenamePattern is primary.
func pickNamed(src plugin.SourceType, names []string, pattern, primaryPattern string) (int, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return -1, err
	}

	var candidates []int

	for i, n := range names {
		if re == nil || re.MatchString(n) {
			candidates = append(candidates, i)
		}
	}

	if re == nil && len(candidates) > 1 {
		var jars []int

		for _, i := range candidates {
			if isJar(names[i]) {
				jars = append(jars, i)
			}
		}

		if len(jars) > 0 {
			candidates = jars
		}
	}

	switch len(candidates) {
	case 0:
		if pattern != "" {
			return -1, plugin.NewSourceError(src, plugin.KindNotFound, "no asset matches %q", pattern)
		}

		return -1, plugin.NewSourceError(src, plugin.KindNotFound, "no downloadable asset")
	case 1:
		return candidates[0], nil
	}

	if primary, err := compilePattern(primaryPattern); err == nil && primary != nil {
		var matched []int

		for _, i := range candidates {
			if primary.MatchString(names[i]) {
				matched = append(matched, i)
			}
		}

		if len(matched) == 1 {
			return matched[0], nil
		}
	}

	found := make([]string, 0, len(candidates))
	for _, i := range candidates {
		found = append(found, names[i])
	}

	return -1, plugin.NewSourceError(src, plugin.KindAmbiguousAsset, "%d assets match: %s", len(found), strings.Join(found, ", "))
}

func trimV(label string) string {
	label = strings.TrimSpace(label)
	if len(label) > 1 && (label[0] == 'v' || label[0] == 'V') && label[1] >= '0' && label[1] <= '9' {
		return label[1:]
	}

	return label
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return strings.TrimRight(v, "/")
}
