// Package httpclient is the outbound HTTP collaborator used by source adapters
// and the artifact fetcher.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/NindroidA/pluginator/internal/plugin"
)

// DefaultUserAgent identifies Pluginator to remote APIs.
const DefaultUserAgent = "Pluginator"

// maxRedirects bounds redirect chains, matching net/http's own default.
const maxRedirects = 10

// Response is an HTTP response whose body must be closed by the caller.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	// URL is the final URL after redirects.
	URL string
}

// Client performs GET requests. Implementations must honor ctx and timeout and
// must not retry.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*Response, error)
}

// HTTP is the default Client backed by net/http.
type HTTP struct {
	client    *http.Client
	userAgent string
}

var _ Client = (*HTTP)(nil)

// Option configures an HTTP client.
type Option func(*HTTP)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(h *HTTP) { h.userAgent = ua }
}

// WithHTTPClient swaps the underlying client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// New returns an HTTP client that follows redirects.
func New(opts ...Option) *HTTP {
	h := &HTTP{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.Newf("stopped after %d redirects", maxRedirects)
				}

				return nil
			},
		},
		userAgent: DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Get issues a GET request. The timeout covers the whole exchange including
// reading the body, so it stays armed until Body is closed. Transport failures
// are returned as *plugin.FetchError.
func (h *HTTP) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*Response, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		cancel()

		return nil, errors.Wrapf(err, "building request for %s", url)
	}

	req.Header.Set("User-Agent", h.userAgent)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()

		return nil, Classify(ctx, url, err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   &cancelBody{ReadCloser: resp.Body, ctx: ctx, url: url, cancel: cancel},
		URL:    resp.Request.URL.String(),
	}, nil
}

// Classify converts a transport error into a *plugin.FetchError, flagging
// deadline expiry as a timeout. Parent cancellation is returned as is.
func Classify(ctx context.Context, url string, err error) error {
	if err == nil {
		return nil
	}

	var fetchErr *plugin.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}

	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &plugin.FetchError{URL: url, Timeout: true}
	}

	return &plugin.FetchError{URL: url, Err: err}
}

// cancelBody releases the request context once the body is closed and maps
// read errors through Classify.
type cancelBody struct {
	io.ReadCloser
	ctx    context.Context //nolint:containedctx // tied to the body's lifetime
	url    string
	cancel context.CancelFunc
}

func (b *cancelBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, Classify(b.ctx, b.url, err)
	}

	return n, err
}

func (b *cancelBody) Close() error {
	defer b.cancel()

	return b.ReadCloser.Close()
}
