package images

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/hazyhaar/pagesaver/horosafe"
)

var (
	hasImageExt  = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg|avif|bmp|ico|tiff|tif)$`)
	findImageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg|avif|bmp|ico|tiff|tif)`)
)

// Filename derives a file name from an image URL:
//
//   - the last path segment, URL-decoded, illegal characters replaced by '-'
//     and leading/trailing dashes and spaces trimmed;
//   - shorter than 3 characters: "<host-with-dashes>-<base36 hash of url>";
//   - truncated to 80 characters;
//   - ".jpg" (or the first image extension found in the path) appended when
//     the name has no image extension.
//
// An unparseable URL yields "image-<index>.jpg".
func Filename(rawURL string, index int) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "image-" + strconv.Itoa(index) + ".jpg"
	}

	escaped := u.EscapedPath()
	var last string
	for _, seg := range strings.Split(escaped, "/") {
		if seg != "" {
			last = seg
		}
	}
	if dec, err := url.PathUnescape(last); err == nil {
		last = dec
	}

	name := strings.Trim(horosafe.SanitizeFilename(last), "- \t")
	if len([]rune(name)) < 3 {
		name = strings.ReplaceAll(u.Hostname(), ".", "-") + "-" + urlHash(rawURL)
	}
	name = horosafe.Truncate(name, 80)

	if !hasImageExt.MatchString(name) {
		if m := findImageExt.FindString(escaped); m != "" {
			name += strings.ToLower(m)
		} else {
			name += ".jpg"
		}
	}
	return name
}

// urlHash is a 31-multiplier string hash over UTF-16 code units, rendered
// in base 36. It keeps generated names stable across runs.
func urlHash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
