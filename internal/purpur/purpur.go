// Package purpur looks up and downloads Purpur server builds.
package purpur

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/getter"
	"github.com/NindroidA/pluginator/internal/httpclient"
	"github.com/NindroidA/pluginator/internal/plugin"
)

// DefaultBaseURL is the Purpur downloads API.
const DefaultBaseURL = "https://api.purpurmc.org/v2/purpur"

const maxBody = 1 << 20

// Build results reported by the API.
const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"
)

var jarName = regexp.MustCompile(`^purpur-(\d+(?:\.\d+)+)-(\d+)\.jar$`)

// Info describes the latest build of the current Minecraft version.
type Info struct {
	Version     string    `json:"version"`
	Build       string    `json:"build"`
	Result      string    `json:"result"`
	MD5         string    `json:"md5,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	DownloadURL string    `json:"download_url"`
}

// FileName is the conventional file name of the build.
func (i *Info) FileName() string {
	return "purpur-" + i.Version + "-" + i.Build + ".jar"
}

// Opts configures a Checker.
type Opts struct {
	Client  httpclient.Client
	Getter  *getter.Getter
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Checker queries the Purpur API.
type Checker struct {
	client  httpclient.Client
	getter  *getter.Getter
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// New returns a Checker.
func New(opts Opts) *Checker {
	c := &Checker{
		client:  opts.Client,
		getter:  opts.Getter,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.client == nil {
		c.client = httpclient.New()
	}

	if c.getter == nil {
		c.getter = getter.New(c.logger)
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	return c
}

type projectResponse struct {
	Metadata struct {
		Current string `json:"current"`
	} `json:"metadata"`
}

type buildResponse struct {
	Build     string `json:"build"`
	Result    string `json:"result"`
	MD5       string `json:"md5"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// Latest returns the newest build of the current Minecraft version. A build
// whose result is FAILURE is returned together with an error.
func (c *Checker) Latest(ctx context.Context) (*Info, error) {
	var project projectResponse
	if err := c.getJSON(ctx, c.baseURL, &project); err != nil {
		return nil, errors.Wrap(err, "fetching Purpur versions")
	}

	if project.Metadata.Current == "" {
		return nil, errors.New("could not parse latest Purpur version")
	}

	version := project.Metadata.Current

	var build buildResponse
	if err := c.getJSON(ctx, c.baseURL+"/"+version+"/latest", &build); err != nil {
		return nil, errors.Wrap(err, "fetching Purpur build info")
	}

	if build.Build == "" {
		return nil, errors.New("could not parse latest Purpur build number")
	}

	info := &Info{
		Version:     version,
		Build:       build.Build,
		Result:      build.Result,
		MD5:         build.MD5,
		DownloadURL: c.baseURL + "/" + version + "/" + build.Build + "/download",
	}

	if build.Timestamp > 0 {
		info.Timestamp = time.UnixMilli(build.Timestamp).UTC()
	}

	c.logger.Debug("latest Purpur build", "version", info.Version, "build", info.Build, "result", info.Result)

	if info.Result == ResultFailure {
		return info, errors.Newf("latest Purpur build %s for %s failed", info.Build, info.Version)
	}

	return info, nil
}

// Download saves the build into dir and returns the file path. The md5
// published by the API is verified when present.
func (c *Checker) Download(ctx context.Context, info *Info, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}

	dest := filepath.Join(dir, info.FileName())

	var opts getter.FetchOpts
	if info.MD5 != "" {
		opts.Checksum = "md5:" + info.MD5
	}

	if err := c.getter.FetchFile(ctx, info.DownloadURL, dest, opts); err != nil {
		return "", err
	}

	c.logger.Info("downloaded Purpur", "version", info.Version, "build", info.Build, "path", dest)

	return dest, nil
}

// Installed finds the newest purpur-{version}-{build}.jar in dir.
func Installed(dir string) (version, build string, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", false
	}

	var bestBuild int

	for _, e := range entries {
		m := jarName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		var n int
		for _, r := range m[2] {
			n = n*10 + int(r-'0')
		}

		if !ok || n > bestBuild {
			version, build, bestBuild, ok = m[1], m[2], n, true
		}
	}

	return version, build, ok
}

// UpToDate reports whether dir already holds the given build.
func UpToDate(dir string, info *Info) bool {
	version, build, ok := Installed(dir)

	return ok && version == info.Version && build == info.Build
}

func (c *Checker) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.client.Get(ctx, url, nil, c.timeout)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Status < 200 || resp.Status > 299 {
		return &plugin.FetchError{URL: url, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrapf(err, "reading %s", url)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrapf(err, "decoding %s", url)
	}

	return nil
}
