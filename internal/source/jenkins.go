package source

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
	"github.com/NindroidA/pluginator/internal/version"
)

// Jenkins resolves the last successful build of a CI job.
type Jenkins struct {
	client
}

var _ Adapter = (*Jenkins)(nil)

// NewJenkins returns the Jenkins adapter.
func NewJenkins(opts Options) *Jenkins {
	return &Jenkins{client: newClient(plugin.SourceJenkins, opts)}
}

// Type implements Adapter.
func (j *Jenkins) Type() plugin.SourceType { return plugin.SourceJenkins }

type jenkinsBuild struct {
	Number    int    `json:"number"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
	Artifacts []struct {
		FileName     string `json:"fileName"`
		RelativePath string `json:"relativePath"`
	} `json:"artifacts"`
}

// FetchLatest implements Adapter.
func (j *Jenkins) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	jobURL := JobURL(spec.JenkinsURL, spec.JobName)

	headers := map[string]string{}
	if spec.Auth != nil {
		headers["Authorization"] = basicAuth(spec.Auth)
	}

	var build jenkinsBuild
	if err := j.getJSON(ctx, jobURL+"/lastSuccessfulBuild/api/json", headers, &build); err != nil {
		return nil, err
	}

	names := make([]string, len(build.Artifacts))
	for i := range build.Artifacts {
		names[i] = build.Artifacts[i].FileName
	}

	idx, err := pickNamed(plugin.SourceJenkins, names, spec.ArtifactPattern, spec.FilenamePattern)
	if err != nil {
		return nil, err
	}

	artifact := build.Artifacts[idx]

	label, ok := version.ParseInstalledVersion(artifact.FileName)
	if !ok {
		label = "build-" + strconv.Itoa(build.Number)
	}

	buildURL := build.URL
	if buildURL == "" {
		buildURL = jobURL + "/" + strconv.Itoa(build.Number) + "/"
	}

	rv := &plugin.ResolvedVersion{
		Label:       label,
		DownloadURL: strings.TrimRight(buildURL, "/") + "/artifact/" + escapePath(artifact.RelativePath),
		Filename:    artifact.FileName,
	}

	if build.Timestamp > 0 {
		rv.PublishedAt = time.UnixMilli(build.Timestamp).UTC()
	}

	if len(headers) > 0 {
		rv.Headers = headers
	}

	return rv, nil
}

// JobURL builds the URL of a possibly nested job, e.g. "Geyser/master" becomes
// "{base}/job/Geyser/job/master".
func JobURL(base, job string) string {
	var b strings.Builder

	b.WriteString(strings.TrimRight(base, "/"))

	for part := range strings.SplitSeq(strings.Trim(job, "/"), "/") {
		if part == "" {
			continue
		}

		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}

	return b.String()
}

func basicAuth(a *plugin.Auth) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.APIToken))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}

	return strings.Join(parts, "/")
}
