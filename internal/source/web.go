package source

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// Web resolves a plugin from a JSON update manifest such as
//
//	{"version": "1.4.2", "downloadUrl": "https://example.org/MyPlugin-1.4.2.jar",
//	 "checksum": "sha256:...", "publishedAt": "2024-05-01T00:00:00Z"}
type Web struct {
	client
}

var _ Adapter = (*Web)(nil)

// NewWeb returns the web manifest adapter.
func NewWeb(opts Options) *Web {
	return &Web{client: newClient(plugin.SourceWeb, opts)}
}

// Type implements Adapter.
func (w *Web) Type() plugin.SourceType { return plugin.SourceWeb }

// manifest accepts the common spellings of each field.
type manifest struct {
	Version      json.RawMessage `json:"version"`
	DownloadURL  string          `json:"downloadUrl"`
	DownloadURL2 string          `json:"download_url"`
	URL          string          `json:"url"`
	Checksum     string          `json:"checksum"`
	SHA256       string          `json:"sha256"`
	Filename     string          `json:"filename"`
	PublishedAt  string          `json:"publishedAt"`
}

// FetchLatest implements Adapter.
func (w *Web) FetchLatest(ctx context.Context, spec *plugin.Spec) (*plugin.ResolvedVersion, error) {
	var raw json.RawMessage
	if err := w.getJSON(ctx, spec.ManifestURL, map[string]string{"Accept": "application/json"}, &raw); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, schemaError(spec.ManifestURL, "manifest must be a JSON object")
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &plugin.SourceError{
			Kind:   plugin.KindSchemaMismatch,
			Source: plugin.SourceWeb,
			Detail: "manifest " + spec.ManifestURL,
			Err:    err,
		}
	}

	label, ok := scalarString(m.Version)
	if !ok || label == "" {
		return nil, schemaError(spec.ManifestURL, `manifest is missing a string "version"`)
	}

	download := firstNonEmpty(m.DownloadURL, m.DownloadURL2, m.URL)
	if download == "" {
		return nil, schemaError(spec.ManifestURL, `manifest is missing "downloadUrl"`)
	}

	rv := &plugin.ResolvedVersion{
		Label:       trimV(label),
		DownloadURL: download,
		Checksum:    m.Checksum,
		Filename:    m.Filename,
	}

	if rv.Checksum == "" && m.SHA256 != "" {
		rv.Checksum = "sha256:" + m.SHA256
	}

	if m.PublishedAt != "" {
		if ts, err := time.Parse(time.RFC3339, m.PublishedAt); err == nil {
			rv.PublishedAt = ts
		}
	}

	return rv, nil
}

func schemaError(manifestURL, detail string) error {
	return plugin.NewSourceError(plugin.SourceWeb, plugin.KindSchemaMismatch, "%s: %s", manifestURL, detail)
}

// scalarString accepts a JSON string or number.
func scalarString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}

	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}
