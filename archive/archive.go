// Package archive saves a static copy of every page under a URL prefix.
//
// The crawl is breadth-first from the start URL and bounded by MaxPages.
// Pages are stripped of scripts, their in-prefix links are rewritten to the
// archived files, and each one is persisted under archive/. An optional
// Markdown rendition is written next to every page.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/queue"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/horosafe"
	"github.com/hazyhaar/pagesaver/internal/fetcher"
)

// Dir is the folder archived pages are persisted under.
const Dir = "archive"

const acceptHTML = "text/html,application/xhtml+xml,application/xml"

// Options tune an archive run.
type Options struct {
	// Prefix limits the crawl. Empty means the start URL's origin and path.
	Prefix string
	// MaxPages caps the number of archived pages. Default 50.
	MaxPages int
	// Delay between requests. Default 500ms; negative disables it.
	Delay time.Duration
	// Markdown also writes a .md rendition of each page.
	Markdown bool
	// Cookies are sent with every request, typically the live page's session.
	Cookies   []*http.Cookie
	UserAgent string
	Client    *http.Client
	Progress  func(Progress)
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.Delay == 0 {
		o.Delay = 500 * time.Millisecond
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = fetcher.DefaultUserAgent
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Progress is reported before each page is fetched.
type Progress struct {
	N        int
	MaxPages int
	URL      string
}

// Page is one archived page.
type Page struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// Failure is a page that could not be archived.
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report summarises an archive run.
type Report struct {
	Prefix   string    `json:"prefix"`
	Archived []Page    `json:"archived"`
	Failed   []Failure `json:"failed,omitempty"`
	Visited  int       `json:"visited"`
	// NeedsScript counts archived pages whose static HTML looks like an
	// application shell; their copies may be mostly empty.
	NeedsScript int  `json:"needs_script"`
	Cancelled   bool `json:"cancelled"`
}

// Status renders the report the way the CLI prints it.
func (r *Report) Status() string {
	switch {
	case r.Cancelled:
		return fmt.Sprintf("archive cancelled, saved %d pages", len(r.Archived))
	case len(r.Archived) == 0:
		return fmt.Sprintf("no pages archived, %d failed", len(r.Failed))
	default:
		return fmt.Sprintf("archived %d pages to %s/", len(r.Archived), Dir)
	}
}

// crawl is the shared state of one Run.
type crawl struct {
	ctx    context.Context
	opts   Options
	out    capture.Persister
	start  string
	q      *queue.Queue
	log    *slog.Logger
	mu     sync.Mutex
	seen   map[string]bool
	report *Report
}

// Run archives the pages reachable from start without leaving the prefix.
// Cancellation stops the crawl before the next request; pages already saved
// are kept and the report is marked cancelled.
func Run(ctx context.Context, start string, out capture.Persister, opts Options) (*Report, error) {
	opts.defaults()
	start = Normalize(start)
	if start == "" {
		return nil, fmt.Errorf("archive: empty start url")
	}
	prefix := Normalize(opts.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix(start)
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.MaxBodySize(int(horosafe.MaxPageBody)),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	if opts.Client != nil {
		c.SetClient(opts.Client)
	} else {
		c.WithTransport(horosafe.NewTransport())
	}
	if opts.Delay > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: opts.Delay}); err != nil {
			return nil, fmt.Errorf("archive: limit: %w", err)
		}
	}
	if len(opts.Cookies) > 0 {
		if err := c.SetCookies(start, opts.Cookies); err != nil {
			return nil, fmt.Errorf("archive: cookies: %w", err)
		}
	}

	q, err := queue.New(1, &queue.InMemoryQueueStorage{MaxSize: 100000})
	if err != nil {
		return nil, fmt.Errorf("archive: queue: %w", err)
	}

	cr := &crawl{
		ctx:    ctx,
		opts:   opts,
		out:    out,
		start:  start,
		q:      q,
		log:    opts.Logger,
		seen:   map[string]bool{},
		report: &Report{Prefix: prefix},
	}
	c.OnRequest(cr.onRequest)
	c.OnResponse(cr.onResponse)
	c.OnError(cr.onError)

	cr.enqueue(start)
	cr.log.Info("archive: start", "url", start, "prefix", prefix, "max_pages", opts.MaxPages)
	if err := q.Run(c); err != nil {
		return nil, fmt.Errorf("archive: run: %w", err)
	}

	rep := cr.report
	cr.log.Info("archive: done", "archived", len(rep.Archived), "failed", len(rep.Failed),
		"visited", rep.Visited, "cancelled", rep.Cancelled)
	return rep, nil
}

// enqueue adds u once. URLs outside the prefix are marked visited but never
// fetched.
func (cr *crawl) enqueue(u string) {
	cr.mu.Lock()
	if cr.seen[u] {
		cr.mu.Unlock()
		return
	}
	cr.seen[u] = true
	cr.report.Visited++
	inPrefix := strings.HasPrefix(u, cr.report.Prefix)
	cr.mu.Unlock()

	if !inPrefix {
		return
	}
	if err := cr.q.AddURL(u); err != nil {
		cr.log.Warn("archive: enqueue", "url", u, "error", err)
	}
}

func (cr *crawl) onRequest(r *colly.Request) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.ctx.Err() != nil {
		cr.report.Cancelled = true
		r.Abort()
		return
	}
	if len(cr.report.Archived) >= cr.opts.MaxPages {
		r.Abort()
		return
	}
	r.Headers.Set("Accept", acceptHTML)
	if cr.opts.Progress != nil {
		cr.opts.Progress(Progress{N: len(cr.report.Archived) + 1, MaxPages: cr.opts.MaxPages, URL: r.URL.String()})
	}
}

func (cr *crawl) onError(r *colly.Response, err error) {
	if cr.ctx.Err() != nil {
		// The request was cut short by cancellation, not by the site.
		cr.mu.Lock()
		cr.report.Cancelled = true
		cr.mu.Unlock()
		return
	}
	u := r.Request.URL.String()
	msg := err.Error()
	if r.StatusCode != 0 {
		msg = fmt.Sprintf("HTTP %d", r.StatusCode)
	}
	cr.fail(u, msg)
}

func (cr *crawl) fail(u, msg string) {
	cr.mu.Lock()
	cr.report.Failed = append(cr.report.Failed, Failure{URL: u, Error: msg})
	cr.mu.Unlock()
	cr.log.Warn("archive: page failed", "url", u, "error", msg)
}

func (cr *crawl) onResponse(r *colly.Response) {
	u := Normalize(r.Request.URL.String())
	if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		cr.fail(u, "not html: "+ct)
		return
	}
	if !strings.HasPrefix(u, cr.report.Prefix) {
		cr.fail(u, "redirected outside prefix")
		return
	}

	doc, err := Process(r.Body, u, cr.report.Prefix, cr.start)
	if err != nil {
		cr.fail(u, err.Error())
		return
	}
	// Links are queued before the file is written, so a persist failure
	// still lets the crawl continue through this page.
	for _, link := range doc.Links {
		cr.enqueue(link)
	}

	rel := FilePath(u, cr.report.Prefix, u == cr.start)
	saved, err := cr.write(doc.HTML, path.Join(Dir, rel))
	if err != nil {
		cr.fail(u, err.Error())
		return
	}

	if cr.opts.Markdown {
		if md, err := Markdown(doc.HTML, u); err != nil {
			cr.log.Warn("archive: markdown", "url", u, "error", err)
		} else if _, err := cr.write(md, path.Join(Dir, strings.TrimSuffix(rel, ".html")+".md")); err != nil {
			cr.log.Warn("archive: persist markdown", "url", u, "error", err)
		}
	}

	shell := fetcher.NeedsScript(r.Body)
	cr.mu.Lock()
	cr.report.Archived = append(cr.report.Archived, Page{URL: u, Path: saved})
	if shell {
		cr.report.NeedsScript++
	}
	cr.mu.Unlock()
	cr.log.Debug("archive: saved", "url", u, "path", saved, "needs_script", shell)
}

// write stores a page at exactly p when the output can replace files.
// Rewritten links point at FilePath names, never at numbered copies.
func (cr *crawl) write(data []byte, p string) (string, error) {
	if r, ok := cr.out.(capture.Replacer); ok {
		return r.Replace(cr.ctx, data, p)
	}
	return cr.out.Persist(cr.ctx, data, p)
}
