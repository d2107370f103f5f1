package capture

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/pagesaver/horosafe"
)

// Info is the page's title and current URL.
type Info struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PageInfo reads the document title and location.
func PageInfo(ctx context.Context, s Scripter) (Info, error) {
	var info Info
	if err := s.Run(ctx, pageInfoScript, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// PageName derives a file base name from the page title, falling back to the
// host name without "www." and finally to "Screenshot".
func PageName(title, rawURL string) string {
	if t := strings.TrimSpace(spaceRun.ReplaceAllString(horosafe.SanitizeFilename(title), " ")); t != "" {
		return horosafe.Truncate(t, 100)
	}
	if u, err := url.Parse(rawURL); err == nil {
		if h := strings.TrimPrefix(u.Hostname(), "www."); h != "" {
			return h
		}
	}
	return "Screenshot"
}

func nameFor(ctx context.Context, s Scripter) string {
	info, _ := PageInfo(ctx, s)
	return PageName(info.Title, info.URL)
}

var (
	numericSeg   = regexp.MustCompile(`^\d+$`)
	segExt       = regexp.MustCompile(`\.[^.]+$`)
	areaIllegal  = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fff}-]`)
	titleIllegal = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fff}\s-]`)
)

// AreaFilename names an area capture "<date>_<name>-area_<time>.png". The
// name is the last non-numeric URL path segment, or the first label of the
// host name. The title is only used when the URL cannot be parsed.
func AreaFilename(rawURL, title string, now time.Time) string {
	return now.Format("2006-01-02") + "_" + areaName(rawURL, title) + "-area_" + now.Format("15-04-05") + ".png"
}

func areaName(rawURL, title string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		name := strings.TrimSpace(titleIllegal.ReplaceAllString(title, ""))
		name = horosafe.Truncate(spaceRun.ReplaceAllString(name, "-"), 50)
		if name == "" {
			return "page"
		}
		return name
	}

	host := strings.Replace(u.Hostname(), "www.", "", 1)
	hostLabel, _, _ := strings.Cut(host, ".")

	var last string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" && !numericSeg.MatchString(seg) {
			last = seg
		}
	}
	if last == "" {
		return hostLabel
	}
	last = segExt.ReplaceAllString(last, "")
	return horosafe.Truncate(areaIllegal.ReplaceAllString(last, "-"), 50)
}
