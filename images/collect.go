// Package images finds every image a live page references and downloads
// them into an images/ folder. Sources are <img> src and srcset, <picture>
// sources and computed CSS background images.
package images

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/hazyhaar/pagesaver/capture"
)

// collectScript lists raw image URLs. Cleaning and dedupe happen in Go.
const collectScript = `(includeImg, includeBg) => {
	const urls = [];
	const fromSrcset = (srcset) => {
		if (!srcset) return;
		srcset.split(',').forEach((s) => {
			const u = s.trim().split(' ')[0];
			if (u) urls.push(new URL(u, document.baseURI).href);
		});
	};
	if (includeImg) {
		document.querySelectorAll('img').forEach((img) => {
			if (img.src) urls.push(img.src);
			fromSrcset(img.srcset);
		});
		document.querySelectorAll('picture source').forEach((s) => fromSrcset(s.srcset));
	}
	if (includeBg) {
		const re = /url\(["']?(https?:\/\/[^"')]+)["']?\)/gi;
		document.querySelectorAll('*').forEach((el) => {
			const bg = window.getComputedStyle(el).backgroundImage;
			if (!bg || bg === 'none') return;
			let m;
			while ((m = re.exec(bg)) !== null) urls.push(m[1]);
		});
	}
	return JSON.stringify(urls);
}`

// sizeParams are query parameters CDNs use to serve resized variants.
// Dropping them usually yields the original image.
var sizeParams = []string{
	"width", "height", "w", "h", "size", "resize",
	"crop", "fit", "quality", "q", "auto", "format",
}

// CleanURL removes resizing query parameters. Other parameters, such as
// version stamps, are kept. Unparseable URLs are returned unchanged.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range sizeParams {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Collect returns the page's image URLs: http(s) only, size parameters
// removed, duplicates dropped, in document order.
func Collect(ctx context.Context, s capture.Scripter, includeImg, includeBackground bool) ([]string, error) {
	var raw []string
	if err := s.Run(ctx, collectScript, &raw, includeImg, includeBackground); err != nil {
		return nil, fmt.Errorf("images: collect: %w", err)
	}
	return Normalize(raw), nil
}

// Normalize applies the scheme filter, CleanURL and dedupe to raw URLs.
func Normalize(raw []string) []string {
	cleaned := lo.FilterMap(raw, func(u string, _ int) (string, bool) {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return "", false
		}
		return CleanURL(u), true
	})
	return lo.Uniq(cleaned)
}
