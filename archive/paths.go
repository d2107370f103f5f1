package archive

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	illegalSegment = regexp.MustCompile(`[<>:"/\\|?*]`)
	dashRun        = regexp.MustCompile(`-+`)
)

// Normalize strips the fragment, the query and trailing slashes from a URL.
// Crawl identity and prefix matching both use the normalized form.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

// DefaultPrefix is the origin and path of the start URL.
func DefaultPrefix(start string) string {
	u, err := url.Parse(start)
	if err != nil || u.Host == "" {
		return Normalize(start)
	}
	return Normalize(u.Scheme + "://" + u.Host + u.Path)
}

func cleanSegment(s string) string {
	return dashRun.ReplaceAllString(illegalSegment.ReplaceAllString(s, "-"), "-")
}

// FilePath maps a page URL to its file under the archive folder.
//
// The base name is the last segment of the prefix path ("archive" if the
// prefix has no path). The start page, and any page whose path equals the
// prefix, is saved as <base>.html; every other page as
// <base>/<seg>/.../<last>.html with its path relative to the prefix.
func FilePath(pageURL, prefix string, isStart bool) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page.html"
	}
	p, err := url.Parse(prefix)
	if err != nil {
		return "page.html"
	}

	prefixPath := strings.TrimRight(p.Path, "/")
	base := "archive"
	if i := strings.LastIndexByte(prefixPath, '/'); i >= 0 && i < len(prefixPath)-1 {
		base = prefixPath[i+1:]
	}
	base = cleanSegment(base)

	rel := u.Path
	if strings.HasPrefix(rel, p.Path) {
		rel = rel[len(p.Path):]
	}
	rel = strings.Trim(rel, "/")

	if isStart || rel == "" {
		return base + ".html"
	}

	var segs []string
	for _, s := range strings.Split(rel, "/") {
		if s != "" {
			segs = append(segs, cleanSegment(s))
		}
	}
	segs[len(segs)-1] += ".html"
	return path.Join(append([]string{base}, segs...)...)
}

// relLink returns the path of target relative to the directory of from.
// Both are slash paths under the archive folder.
func relLink(from, target string) string {
	fromDir := strings.Split(path.Dir(from), "/")
	if path.Dir(from) == "." {
		fromDir = nil
	}
	to := strings.Split(target, "/")

	common := 0
	for common < len(fromDir) && common < len(to)-1 && fromDir[common] == to[common] {
		common++
	}
	var parts []string
	for range fromDir[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	return strings.Join(parts, "/")
}
