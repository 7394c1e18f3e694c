// Package fetcher downloads plugin artifacts to temporary files under a global
// concurrency ceiling.
package fetcher

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/NindroidA/pluginator/internal/digest"
	"github.com/NindroidA/pluginator/internal/httpclient"
	"github.com/NindroidA/pluginator/internal/plugin"
)

// PartSuffix marks in-progress downloads. The server ignores non-.jar files.
const PartSuffix = ".part"

// Opts configures a Fetcher.
type Opts struct {
	Client httpclient.Client
	Fs     afero.Fs
	// Threads is the number of downloads allowed in flight at once.
	Threads int
	// Timeout bounds a single download when the request does not set one.
	Timeout time.Duration
	// MaxBytes caps artifact size when the request does not set one. Zero
	// means unlimited.
	MaxBytes int64
	Logger   *slog.Logger
}

// Fetcher downloads artifacts. It is safe for concurrent use.
type Fetcher struct {
	client   httpclient.Client
	fs       afero.Fs
	sem      *semaphore.Weighted
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

// New returns a Fetcher.
func New(opts Opts) *Fetcher {
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	f := &Fetcher{
		client:   opts.Client,
		fs:       opts.Fs,
		sem:      semaphore.NewWeighted(int64(threads)),
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}

	if f.client == nil {
		f.client = httpclient.New()
	}

	if f.fs == nil {
		f.fs = afero.NewOsFs()
	}

	if f.logger == nil {
		f.logger = slog.Default()
	}

	return f
}

// Request describes one download.
type Request struct {
	URL     string
	Headers map[string]string
	// Dir receives the temporary file. It should be on the same filesystem as
	// the final destination so the caller can rename atomically.
	Dir string
	// Name seeds the temporary file name.
	Name     string
	MaxBytes int64
	Timeout  time.Duration
	// Checksum is verified after download when set ("algo:hex").
	Checksum string
	// FollowRedirects marks URLs that may land on a web page instead of the
	// artifact; the final response is rejected unless it is a JAR.
	FollowRedirects bool
}

// LocalFile is a completed download awaiting the caller.
type LocalFile struct {
	Path string
	Size int64
	// Hash is the blake3 fingerprint of the content.
	Hash string
	// URL is the final URL after redirects.
	URL string
}

// Discard removes the temporary file.
func (f *Fetcher) Discard(lf *LocalFile) {
	if lf == nil {
		return
	}

	if err := f.fs.Remove(lf.Path); err != nil {
		f.logger.Warn("failed to remove temporary download", "path", lf.Path, "error", err)
	}
}

// Download fetches req.URL into a new temporary file in req.Dir. Non-2xx
// responses fail with FetchError{Status}, deadline expiry with
// FetchError{Timeout}. The temporary file is removed on every failure.
func (f *Fetcher) Download(ctx context.Context, req Request) (*LocalFile, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "waiting for a download slot")
	}
	defer f.sem.Release(1)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}

	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.maxBytes
	}

	f.logger.Debug("downloading artifact", "url", req.URL, "dir", req.Dir)

	resp, err := f.client.Get(ctx, req.URL, req.Headers, timeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.Status < 200 || resp.Status > 299 {
		return nil, &plugin.FetchError{URL: req.URL, Status: resp.Status}
	}

	if req.FollowRedirects && isHTML(resp.Header.Get("Content-Type")) {
		return nil, &plugin.FetchError{URL: resp.URL, Reason: "source returned a web page instead of a file; download it manually"}
	}

	if maxBytes > 0 {
		announced, parseErr := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
		if parseErr == nil && announced > maxBytes {
			return nil, &plugin.FetchError{URL: req.URL, TooLarge: true}
		}
	}

	if err := f.fs.MkdirAll(req.Dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating download directory %s", req.Dir)
	}

	tmp, err := afero.TempFile(f.fs, req.Dir, "."+req.Name+"-*"+PartSuffix)
	if err != nil {
		return nil, errors.Wrapf(err, "creating temporary file in %s", req.Dir)
	}

	lf := &LocalFile{Path: tmp.Name(), URL: resp.URL}

	size, copyErr := copyLimited(tmp, resp.Body, maxBytes)
	closeErr := tmp.Close()

	if err := firstErr(copyErr, closeErr); err != nil {
		f.Discard(lf)

		if errors.Is(err, errTooLarge) {
			return nil, &plugin.FetchError{URL: req.URL, TooLarge: true}
		}

		var fetchErr *plugin.FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}

		return nil, &plugin.FetchError{URL: req.URL, Reason: "writing download", Err: err}
	}

	lf.Size = size

	if err := f.verify(lf, req); err != nil {
		f.Discard(lf)

		return nil, err
	}

	f.logger.Debug("downloaded artifact", "url", req.URL, "path", lf.Path, "bytes", size)

	return lf, nil
}

func (f *Fetcher) verify(lf *LocalFile, req Request) error {
	if req.Checksum != "" {
		if err := digest.Verify(f.fs, lf.Path, req.Checksum); err != nil {
			return &plugin.FetchError{URL: req.URL, Reason: "verifying checksum", Err: err}
		}
	}

	if err := checkJar(f.fs, lf.Path, lf.Size); err != nil {
		return &plugin.FetchError{URL: req.URL, Reason: "downloaded file is not a JAR", Err: err}
	}

	hash, err := digest.Fingerprint(f.fs, lf.Path)
	if err != nil {
		return errors.Wrap(err, "fingerprinting download")
	}

	lf.Hash = hash

	return nil
}

var errTooLarge = errors.New("artifact exceeds size limit")

func copyLimited(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	if maxBytes <= 0 {
		return io.Copy(dst, src)
	}

	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		return n, err
	}

	if n > maxBytes {
		return n, errTooLarge
	}

	return n, nil
}

// checkJar opens the file as a zip archive, which every plugin JAR is.
func checkJar(fs afero.Fs, path string, size int64) error {
	file, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = zip.NewReader(file, size)

	return err
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)

	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

// IsPartial reports whether name is a leftover temporary download.
func IsPartial(name string) bool {
	ok, _ := filepath.Match(".*-*"+PartSuffix, name)

	return ok
}
