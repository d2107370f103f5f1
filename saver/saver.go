// CLAUDE:SUMMARY Orchestrates pagesaver operations: opens a tab, runs capture/images/archive, records the run in history.
// Package saver ties the browser, the capture pipeline, image extraction,
// the site archiver, the output sink and the history store together. The
// CLI, the HTTP API and the MCP tools all call the same Saver methods.
package saver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/pagesaver/archive"
	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/idgen"
	"github.com/hazyhaar/pagesaver/images"
	"github.com/hazyhaar/pagesaver/internal/audit"
	"github.com/hazyhaar/pagesaver/internal/browser"
	"github.com/hazyhaar/pagesaver/internal/config"
	"github.com/hazyhaar/pagesaver/internal/fetcher"
	"github.com/hazyhaar/pagesaver/internal/store"
	"github.com/hazyhaar/pagesaver/kit"
)

// ErrNoHistory is returned by history operations when no store is configured.
var ErrNoHistory = errors.New("saver: history disabled")

// Tab is a live page opened for one operation.
type Tab interface {
	capture.Page
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// Opener opens a tab on a URL.
type Opener interface {
	Open(ctx context.Context, url string) (Tab, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string) (Tab, error)

func (f OpenerFunc) Open(ctx context.Context, url string) (Tab, error) { return f(ctx, url) }

// BrowserOpener opens tabs on a started browser.Manager.
func BrowserOpener(m *browser.Manager) Opener {
	return OpenerFunc(func(ctx context.Context, url string) (Tab, error) {
		t, err := browser.OpenTab(ctx, m, url)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// Options configures a Saver. Opener and Out are required.
type Options struct {
	Opener     Opener
	Out        capture.Persister
	Store      *store.Store // nil disables history
	Audit      *audit.Logger // nil disables the API/MCP audit trail
	Downloader images.Downloader
	Config     *config.Config
	Detector   capture.Detector
	Sleeper    capture.Sleeper
	Logger     *slog.Logger
	Now        func() time.Time
}

// Saver runs pagesaver operations. Browser-bound operations are serialized.
type Saver struct {
	opts Options
	cfg  *config.Config
	log  *slog.Logger
	mu   sync.Mutex
}

// New creates a Saver.
func New(opts Options) *Saver {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Downloader == nil {
		opts.Downloader = fetcher.New(fetcher.WithLogger(opts.Logger))
	}
	if opts.Sleeper == nil {
		opts.Sleeper = capture.WallClock
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Saver{opts: opts, cfg: opts.Config, log: opts.Logger}
}

// CaptureOutcome is the result of a screenshot operation. Result is nil
// when nothing was saved.
type CaptureOutcome struct {
	ID     string          `json:"id"`
	URL    string          `json:"url"`
	Status string          `json:"status"`
	Result *capture.Result `json:"result,omitempty"`
}

// CaptureRequest selects a page and an optional output name.
type CaptureRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	// Progress receives full-page frame progress. Not serialised.
	Progress func(capture.Progress) `json:"-"`
}

func (s *Saver) captureConfig(progress func(capture.Progress)) capture.Config {
	c := s.cfg.Capture
	return capture.Config{
		Settle:              c.Settle,
		PreSettle:           c.PreSettle,
		DivergenceThreshold: c.DivergenceThreshold,
		AreaTimeout:         c.AreaTimeout,
		Detector:            s.opts.Detector,
		Sleeper:             s.opts.Sleeper,
		Progress:            progress,
		Logger:              s.log,
		Now:                 s.opts.Now,
	}
}

// Visible captures the visible viewport of the page at req.URL.
func (s *Saver) Visible(ctx context.Context, req CaptureRequest) (*CaptureOutcome, error) {
	return s.runCapture(ctx, capture.KindVisible, req.URL, func(ctx context.Context, tab Tab) (*capture.Result, error) {
		return capture.Visible(ctx, tab, s.opts.Out, req.Name)
	})
}

// FullPage captures the whole scrollable page at req.URL.
func (s *Saver) FullPage(ctx context.Context, req CaptureRequest) (*CaptureOutcome, error) {
	cfg := s.captureConfig(req.Progress)
	return s.runCapture(ctx, capture.KindFullPage, req.URL, func(ctx context.Context, tab Tab) (*capture.Result, error) {
		return capture.FullPage(ctx, tab, s.opts.Out, req.Name, cfg)
	})
}

// AreaRequest captures a region of the page. Without a Rect the user drags
// a selection in the (visible) browser window.
type AreaRequest struct {
	URL  string             `json:"url"`
	Rect *capture.Selection `json:"rect,omitempty"`
}

// FixedSelector is an AreaSelector that returns a preset selection.
type FixedSelector capture.Selection

func (f FixedSelector) SelectArea(context.Context) (capture.Selection, error) {
	return capture.Selection(f), nil
}

// Area captures a region of the page at req.URL.
func (s *Saver) Area(ctx context.Context, req AreaRequest) (*CaptureOutcome, error) {
	cfg := s.captureConfig(nil)
	return s.runCapture(ctx, capture.KindArea, req.URL, func(ctx context.Context, tab Tab) (*capture.Result, error) {
		var sel capture.AreaSelector
		if req.Rect != nil {
			r := *req.Rect
			if r.DPR <= 0 {
				if err := tab.Run(ctx, `() => JSON.stringify(window.devicePixelRatio || 1)`, &r.DPR); err != nil {
					r.DPR = 1
				}
			}
			sel = FixedSelector(r)
		}
		return capture.Area(ctx, tab, sel, s.opts.Out, cfg)
	})
}

func (s *Saver) runCapture(ctx context.Context, kind, url string,
	run func(context.Context, Tab) (*capture.Result, error)) (*CaptureOutcome, error) {
	if url == "" {
		return nil, fmt.Errorf("saver: %s: empty url", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &CaptureOutcome{ID: idgen.Capture(), URL: url}
	tab, err := s.opts.Opener.Open(ctx, url)
	if err != nil {
		out.Status = "failed: " + err.Error()
		s.record(ctx, &store.Run{ID: out.ID, Kind: kind, URL: url, Status: store.StatusFailed, Message: out.Status}, nil)
		return out, fmt.Errorf("saver: open %s: %w", url, err)
	}
	defer tab.Close()

	res, err := run(ctx, tab)
	out.Result = res
	out.Status = capture.Status(res, err)

	rec := &store.Run{ID: out.ID, Kind: kind, URL: url, Status: store.StatusOK, Message: out.Status}
	switch {
	case errors.Is(err, capture.ErrCancelled):
		rec.Status = store.StatusCancelled
	case err != nil:
		rec.Status = store.StatusFailed
	default:
		rec.Path = res.Path
	}
	var detail any
	if res != nil {
		detail = res
	}
	s.record(ctx, rec, detail)

	if err != nil {
		s.log.Warn("saver: capture failed", "kind", kind, "url", url, "status", out.Status)
		return out, err
	}
	s.log.Info("saver: captured", "kind", kind, "url", url, "path", res.Path,
		"width", res.Width, "height", res.Height, "truncated", res.Truncated)
	return out, nil
}

// ImagesRequest selects a page and overrides image-extraction settings.
type ImagesRequest struct {
	URL               string `json:"url"`
	MinSize           *int64 `json:"min_size,omitempty"`
	IncludeImg        *bool  `json:"include_img,omitempty"`
	IncludeBackground *bool  `json:"include_background,omitempty"`

	Progress func(images.Progress) `json:"-"`
}

// ImagesOutcome is the result of an image extraction.
type ImagesOutcome struct {
	ID     string         `json:"id"`
	URL    string         `json:"url"`
	Status string         `json:"status"`
	Report *images.Report `json:"report,omitempty"`
}

// Images downloads every image on the page at req.URL.
func (s *Saver) Images(ctx context.Context, req ImagesRequest) (*ImagesOutcome, error) {
	if req.URL == "" {
		return nil, errors.New("saver: images: empty url")
	}
	c := s.cfg.Images
	opts := images.Options{
		MinSize:           c.MinSize,
		IncludeImg:        c.IncludeImg == nil || *c.IncludeImg,
		IncludeBackground: c.IncludeBackground == nil || *c.IncludeBackground,
		Delay:             c.Delay,
		Sleeper:           s.opts.Sleeper,
		Progress:          req.Progress,
		Logger:            s.log,
	}
	if req.MinSize != nil {
		opts.MinSize = *req.MinSize
	}
	if req.IncludeImg != nil {
		opts.IncludeImg = *req.IncludeImg
	}
	if req.IncludeBackground != nil {
		opts.IncludeBackground = *req.IncludeBackground
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := &ImagesOutcome{ID: idgen.Images(), URL: req.URL}
	rec := &store.Run{ID: out.ID, Kind: store.KindImages, URL: req.URL}

	tab, err := s.opts.Opener.Open(ctx, req.URL)
	if err != nil {
		out.Status = "failed: " + err.Error()
		rec.Status, rec.Message = store.StatusFailed, out.Status
		s.record(ctx, rec, nil)
		return out, fmt.Errorf("saver: open %s: %w", req.URL, err)
	}
	defer tab.Close()

	rep, err := images.Extract(ctx, tab, s.opts.Downloader, s.opts.Out, opts)
	if err != nil {
		out.Status = "failed: " + err.Error()
		rec.Status, rec.Message = store.StatusFailed, out.Status
		s.record(ctx, rec, nil)
		return out, err
	}
	out.Report = rep
	out.Status = rep.Status()
	rec.Status, rec.Message, rec.Path = store.StatusOK, out.Status, images.Dir
	if rep.Cancelled {
		rec.Status = store.StatusCancelled
	}
	s.record(ctx, rec, rep)
	return out, nil
}

// ArchiveRequest selects a start URL and overrides archive settings.
type ArchiveRequest struct {
	URL      string `json:"url"`
	Prefix   string `json:"prefix,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
	Markdown *bool  `json:"markdown,omitempty"`

	Progress func(archive.Progress) `json:"-"`
}

// ArchiveOutcome is the result of a site archive.
type ArchiveOutcome struct {
	ID     string          `json:"id"`
	URL    string          `json:"url"`
	Status string          `json:"status"`
	Report *archive.Report `json:"report,omitempty"`
}

// Archive saves every page under the prefix reachable from req.URL. The
// browser is used only to pick up the page's session cookies; pages are
// fetched over plain HTTP.
func (s *Saver) Archive(ctx context.Context, req ArchiveRequest) (*ArchiveOutcome, error) {
	if req.URL == "" {
		return nil, errors.New("saver: archive: empty url")
	}
	c := s.cfg.Archive
	opts := archive.Options{
		Prefix:   req.Prefix,
		MaxPages: c.MaxPages,
		Delay:    c.Delay,
		Markdown: c.Markdown,
		Progress: req.Progress,
		Logger:   s.log,
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	if req.Markdown != nil {
		opts.Markdown = *req.Markdown
	}
	opts.Cookies = s.sessionCookies(ctx, req.URL)

	out := &ArchiveOutcome{ID: idgen.Archive(), URL: req.URL}
	rec := &store.Run{ID: out.ID, Kind: store.KindArchive, URL: req.URL}

	rep, err := archive.Run(ctx, req.URL, s.opts.Out, opts)
	if err != nil {
		out.Status = "failed: " + err.Error()
		rec.Status, rec.Message = store.StatusFailed, out.Status
		s.record(ctx, rec, nil)
		return out, err
	}
	out.Report = rep
	out.Status = rep.Status()
	rec.Status, rec.Message, rec.Path = store.StatusOK, out.Status, archive.Dir
	switch {
	case rep.Cancelled:
		rec.Status = store.StatusCancelled
	case len(rep.Archived) == 0:
		rec.Status = store.StatusFailed
	}
	s.record(ctx, rec, rep)
	return out, nil
}

// sessionCookies opens the start page to read its cookies. Failures are
// logged and the archive proceeds without a session.
func (s *Saver) sessionCookies(ctx context.Context, url string) []*http.Cookie {
	if s.opts.Opener == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, err := s.opts.Opener.Open(ctx, url)
	if err != nil {
		s.log.Warn("saver: archive without session", "url", url, "error", err)
		return nil
	}
	defer tab.Close()
	cookies, err := tab.Cookies(ctx)
	if err != nil {
		s.log.Warn("saver: archive without session", "url", url, "error", err)
		return nil
	}
	return cookies
}

// History lists recent runs, newest first. An empty kind lists all kinds.
func (s *Saver) History(ctx context.Context, kind string, limit int) ([]*store.Run, error) {
	if s.opts.Store == nil {
		return nil, ErrNoHistory
	}
	return s.opts.Store.List(ctx, kind, limit)
}

// Last returns the most recent successful screenshot.
func (s *Saver) Last(ctx context.Context) (*store.Run, error) {
	if s.opts.Store == nil {
		return nil, ErrNoHistory
	}
	return s.opts.Store.Last(ctx)
}

// record writes a history row. History failures never fail the operation.
func (s *Saver) record(ctx context.Context, r *store.Run, detail any) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Record(context.WithoutCancel(ctx), r, detail); err != nil {
		s.log.Warn("saver: record history", "id", r.ID, "error", err)
	}
}

// middleware is the chain every HTTP and MCP endpoint runs through.
func (s *Saver) middleware(log *slog.Logger, op string) kit.Middleware {
	mws := []kit.Middleware{kit.WithRequestIDs(), kit.Logging(log, op)}
	if s.opts.Audit != nil {
		mws = append(mws, audit.Middleware(s.opts.Audit, op))
	}
	return kit.Chain(mws...)
}
