package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagesaver/capture"
)

// Tab is one Rod page set up for capture. It implements capture.Page.
type Tab struct {
	page    *rod.Page
	manager *Manager
	url     string
}

var _ capture.Page = (*Tab)(nil)

// OpenTab creates a tab with the configured viewport and navigates it to
// pageURL. The caller must Close it.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	cfg := mgr.cfg

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	mgr.acquire()
	t := &Tab{page: page, manager: mgr, url: pageURL}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: cfg.Scale,
	}); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, cfg.ResourceBlocking)
	}

	if pageURL != "" {
		if err := t.Navigate(ctx, pageURL); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

// Navigate loads pageURL and waits for the load event. A load timeout is
// logged, not fatal: the page is usually capturable anyway.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	log := t.manager.cfg.Logger
	navCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavigateTimeout)
	defer cancel()

	if err := t.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	t.url = pageURL
	return nil
}

// Run evaluates a JS function on the page. The function returns a JSON
// string, which is decoded into out unless out is nil.
func (t *Tab) Run(ctx context.Context, script string, out any, args ...any) error {
	res, err := t.page.Context(ctx).Eval(script, args...)
	if err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), out); err != nil {
		return fmt.Errorf("browser: decode eval result: %w", err)
	}
	return nil
}

// CaptureViewport takes a PNG of the visible window.
func (t *Tab) CaptureViewport(ctx context.Context) (capture.Raster, error) {
	data, err := t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return capture.Raster{}, fmt.Errorf("browser: screenshot: %w", err)
	}
	return capture.NewRaster(data)
}

// HTML returns the serialised document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get html: %w", err)
	}
	return html, nil
}

// Cookies returns the cookies the page would send to its own URL, for use
// by plain HTTP downloads.
func (t *Tab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	list, err := t.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(list))
	for _, c := range list {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out, nil
}

// URL is the last URL navigated to.
func (t *Tab) URL() string { return t.url }

// Close closes the tab.
func (t *Tab) Close() error {
	if t.page == nil {
		return nil
	}
	err := t.page.Close()
	t.page = nil
	t.manager.release()
	return err
}
