// Package fetcher is the plain-HTTP side of pagesaver: HEAD probes for
// image sizes and bounded GETs for downloads. No browser is involved; page
// cookies are passed in explicitly when a download needs the page session.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/pagesaver/horosafe"
)

// DefaultUserAgent identifies pagesaver downloads.
const DefaultUserAgent = "Mozilla/5.0 (compatible; pagesaver/1.0)"

// ErrStatus is wrapped by Get when the server answers with a non-2xx status.
var ErrStatus = errors.New("fetcher: unexpected status")

// Response is a downloaded body.
type Response struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// Fetcher performs HEAD and GET requests.
type Fetcher struct {
	client  *http.Client
	ua      string
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client. The default client refuses private
// addresses for contexts marked with horosafe.PublicOnly; a custom one
// carries that guard only if it is built on horosafe.NewTransport.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithMaxBody caps downloaded bodies. Default: horosafe.MaxPageBody.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  horosafe.NewClient(30 * time.Second),
		ua:      DefaultUserAgent,
		maxBody: horosafe.MaxPageBody,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Size returns the Content-Length reported by a HEAD request. known is false
// when the server does not report it or the HEAD fails; callers treat an
// unknown size as acceptable.
func (f *Fetcher) Size(ctx context.Context, rawURL string) (size int64, known bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("fetcher: head failed", "url", rawURL, "error", err)
		return 0, false
	}
	resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Get downloads rawURL, sending the given cookies.
func (f *Fetcher) Get(ctx context.Context, rawURL string, cookies []*http.Cookie) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %d for %s", ErrStatus, resp.StatusCode, rawURL)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("fetcher: read %s: %w", rawURL, err)
	}

	f.logger.Debug("fetcher: fetched", "url", rawURL, "status", resp.StatusCode, "size", len(body))
	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}
