// Package getter wraps hashicorp/go-getter for fetching remote plugin lists
// and server jars.
package getter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	getter "github.com/hashicorp/go-getter/v2"
)

// Getter wraps go-getter to fetch files over HTTP, git and other protocols.
type Getter struct {
	client *getter.Client
	logger *slog.Logger
}

// New creates a Getter with default configuration.
func New(logger *slog.Logger) *Getter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Getter{
		client: &getter.Client{
			DisableSymlinks: true,
		},
		logger: logger,
	}
}

// FetchOpts configures a fetch operation.
type FetchOpts struct {
	// Checksum is appended as ?checksum= for verification ("algo:hex").
	Checksum string

	// Pwd is the working directory for relative path detection.
	Pwd string
}

// FetchFile downloads a single file from src to dest.
func (g *Getter) FetchFile(ctx context.Context, src, dest string, opts FetchOpts) error {
	fullSrc := appendQueryParams(src, opts)
	g.logger.Debug("fetching file", "src", fullSrc, "dest", dest)

	req := &getter.Request{
		Src:             fullSrc,
		Dst:             dest,
		Pwd:             opts.Pwd,
		GetMode:         getter.ModeFile,
		DisableSymlinks: true,
	}

	_, err := g.client.Get(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "fetching file %s", src)
	}

	return nil
}

// FetchTemp downloads src into a new temporary directory and returns the
// file path together with a cleanup function that removes the directory.
func (g *Getter) FetchTemp(ctx context.Context, src string, opts FetchOpts) (string, func(), error) {
	dir, err := os.MkdirTemp("", "pluginator-*")
	if err != nil {
		return "", func() {}, errors.Wrap(err, "creating temporary directory")
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			g.logger.Warn("failed to remove temporary directory", "dir", dir, "error", err)
		}
	}

	dest := filepath.Join(dir, fileName(src))

	if err := g.FetchFile(ctx, src, dest, opts); err != nil {
		cleanup()

		return "", func() {}, err
	}

	return dest, cleanup, nil
}

// appendQueryParams adds the checksum query parameter to a source URL.
func appendQueryParams(src string, opts FetchOpts) string {
	if opts.Checksum == "" {
		return src
	}

	sep := "?"
	for _, c := range src {
		if c == '?' {
			sep = "&"

			break
		}
	}

	return src + sep + "checksum=" + opts.Checksum
}
