package fetcher

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// shellMarkers are empty mount points and noscript notices left by
// client-rendered apps.
var shellMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	"<noscript>you need to enable javascript",
	"<noscript>enable javascript",
}

// NeedsScript reports whether an HTML document looks like a client-rendered
// shell whose content only appears after JavaScript runs. Archived copies of
// such pages have scripts stripped and will be mostly empty.
func NeedsScript(doc []byte) bool {
	lower := bytes.ToLower(doc)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	text, total := visibleText(doc), len(doc)
	if total < 256 {
		return text < 50
	}
	return text < 200 || float64(text)/float64(total) < 0.05
}

// visibleText counts non-space text bytes outside script and style.
func visibleText(doc []byte) int {
	z := html.NewTokenizer(bytes.NewReader(doc))
	skip := 0
	n := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken:
			if name, _ := z.TagName(); isHidden(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHidden(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				n += len(strings.Join(strings.Fields(string(z.Text())), ""))
			}
		}
	}
}

func isHidden(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}
