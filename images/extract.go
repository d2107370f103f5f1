package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/internal/fetcher"
)

// Dir is the folder images are persisted under.
const Dir = "images"

// Page is the live page images are collected from.
type Page interface {
	capture.Scripter
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Downloader fetches image sizes and bodies. *fetcher.Fetcher implements it.
type Downloader interface {
	Size(ctx context.Context, rawURL string) (int64, bool)
	Get(ctx context.Context, rawURL string, cookies []*http.Cookie) (*fetcher.Response, error)
}

// Progress is reported after each image is handled.
type Progress struct {
	Index int
	Total int
	URL   string
	State string // downloaded, skipped or failed
}

// Options tune an extraction run.
type Options struct {
	// MinSize skips images whose HEAD Content-Length is known and smaller.
	// Zero disables the size check.
	MinSize           int64
	IncludeImg        bool
	IncludeBackground bool
	// Delay between downloads. Default 300ms.
	Delay    time.Duration
	Sleeper  capture.Sleeper
	Progress func(Progress)
	Logger   *slog.Logger
}

// DefaultOptions collects from both sources with the standard delay.
func DefaultOptions() Options {
	return Options{IncludeImg: true, IncludeBackground: true, Delay: 300 * time.Millisecond}
}

func (o *Options) defaults() {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Sleeper == nil {
		o.Sleeper = capture.WallClock
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Report summarises an extraction run.
type Report struct {
	Found      int      `json:"found"`
	Downloaded int      `json:"downloaded"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	FailedURLs []string `json:"failed_urls,omitempty"`
	Files      []string `json:"files,omitempty"`
	Cancelled  bool     `json:"cancelled"`
}

// Status renders the report as a one-line summary.
func (r *Report) Status() string {
	s := fmt.Sprintf("%d found, %d downloaded, %d skipped, %d failed",
		r.Found, r.Downloaded, r.Skipped, r.Failed)
	if r.Cancelled {
		s += " (cancelled)"
	}
	return s
}

// Extract collects the page's images and saves each one under images/.
// Individual download failures are counted, not returned. Cancellation stops
// the run between images and is reported through Report.Cancelled; files
// already saved are kept.
func Extract(ctx context.Context, page Page, dl Downloader, out capture.Persister, opts Options) (*Report, error) {
	opts.defaults()
	log := opts.Logger

	urls, err := Collect(ctx, page, opts.IncludeImg, opts.IncludeBackground)
	if err != nil {
		return nil, err
	}
	info, err := capture.PageInfo(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("images: page info: %w", err)
	}
	origin := originOf(info.URL)

	var cookies []*http.Cookie
	if origin != "" {
		if cookies, err = page.Cookies(ctx); err != nil {
			log.Warn("images: cookies unavailable", "error", err)
			cookies = nil
		}
	}

	rep := &Report{Found: len(urls)}
	log.Info("images: collected", "page", info.URL, "found", rep.Found)

	for i, u := range urls {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}

		state := handle(ctx, dl, out, u, i, origin, cookies, opts, rep)
		if opts.Progress != nil {
			opts.Progress(Progress{Index: i + 1, Total: len(urls), URL: u, State: state})
		}

		if i < len(urls)-1 && state == "downloaded" {
			if err := opts.Sleeper.Sleep(ctx, opts.Delay); err != nil {
				rep.Cancelled = true
				break
			}
		}
	}

	log.Info("images: done", "page", info.URL, "downloaded", rep.Downloaded,
		"skipped", rep.Skipped, "failed", rep.Failed, "cancelled", rep.Cancelled)
	return rep, nil
}

func handle(ctx context.Context, dl Downloader, out capture.Persister, u string, i int,
	origin string, cookies []*http.Cookie, opts Options, rep *Report) string {
	log := opts.Logger

	if opts.MinSize > 0 {
		if size, known := dl.Size(ctx, u); known && size < opts.MinSize {
			rep.Skipped++
			log.Debug("images: below min size", "url", u, "size", size)
			return "skipped"
		}
	}

	var send []*http.Cookie
	if origin != "" && originOf(u) == origin {
		send = cookies
	}

	resp, err := dl.Get(ctx, u, send)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rep.Cancelled = true
		}
		rep.Failed++
		rep.FailedURLs = append(rep.FailedURLs, u)
		log.Debug("images: download failed", "url", u, "error", err)
		return "failed"
	}

	saved, err := out.Persist(ctx, resp.Body, path.Join(Dir, Filename(u, i)))
	if err != nil {
		rep.Failed++
		rep.FailedURLs = append(rep.FailedURLs, u)
		log.Warn("images: persist failed", "url", u, "error", err)
		return "failed"
	}
	rep.Downloaded++
	rep.Files = append(rep.Files, saved)
	return "downloaded"
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
