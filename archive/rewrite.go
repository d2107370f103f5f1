package archive

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// cspContent blocks every script in an archived page.
const cspContent = "script-src 'none';"

// Document is one fetched page after rewriting.
type Document struct {
	HTML  []byte
	Title string
	// Links are the normalized in-prefix URLs the page links to, in
	// document order and without duplicates.
	Links []string
}

// linkAttrs lists the attributes resolved against the page URL.
var linkAttrs = map[string]bool{"href": true, "src": true, "action": true, "poster": true}

// rewriter carries the per-page state of Process.
type rewriter struct {
	page   *url.URL
	prefix string
	start  string
	self   string // file path of the page being rewritten
	seen   map[string]bool
	doc    *Document
}

// Process parses a fetched page and returns a static copy:
//
//   - <script> and <noscript> elements and on* attributes are removed;
//   - a Content-Security-Policy meta forbidding scripts is inserted first in <head>;
//   - links to pages inside the prefix point at their archived files;
//   - other relative links and sources are made absolute.
func Process(body []byte, pageURL, prefix, start string) (*Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("archive: parse url: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("archive: parse html: %w", err)
	}

	rw := &rewriter{
		page:   u,
		prefix: prefix,
		start:  start,
		self:   FilePath(pageURL, prefix, Normalize(pageURL) == start),
		seen:   map[string]bool{},
		doc:    &Document{},
	}
	rw.walk(root)
	injectCSP(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("archive: render: %w", err)
	}
	rw.doc.HTML = buf.Bytes()
	return rw.doc, nil
}

func (rw *rewriter) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Noscript) {
			n.RemoveChild(c)
			c = next
			continue
		}
		if c.Type == html.ElementNode {
			if c.DataAtom == atom.Title && rw.doc.Title == "" && c.FirstChild != nil {
				rw.doc.Title = strings.TrimSpace(c.FirstChild.Data)
			}
			rw.attrs(c)
		}
		rw.walk(c)
		c = next
	}
}

func (rw *rewriter) attrs(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if linkAttrs[key] {
			a.Val = rw.link(n, key, a.Val)
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// link rewrites one URL-valued attribute.
func (rw *rewriter) link(n *html.Node, key, val string) string {
	v := strings.TrimSpace(val)
	if v == "" || strings.HasPrefix(v, "#") || hasScheme(v, "javascript", "mailto", "tel", "data") {
		return val
	}
	ref, err := url.Parse(v)
	if err != nil {
		return val
	}
	abs := rw.page.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return val
	}

	navigable := key == "href" && (n.DataAtom == atom.A || n.DataAtom == atom.Area)
	if navigable {
		target := Normalize(abs.String())
		if strings.HasPrefix(target, rw.prefix) {
			if !rw.seen[target] {
				rw.seen[target] = true
				rw.doc.Links = append(rw.doc.Links, target)
			}
			local := relLink(rw.self, FilePath(target, rw.prefix, target == rw.start))
			if abs.Fragment != "" {
				local += "#" + abs.Fragment
			}
			return local
		}
	}
	if ref.IsAbs() {
		return val
	}
	return abs.String()
}

func hasScheme(v string, schemes ...string) bool {
	lower := strings.ToLower(v)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s+":") {
			return true
		}
	}
	return false
}

func injectCSP(root *html.Node) {
	head := find(root, atom.Head)
	if head == nil {
		return
	}
	meta := &html.Node{
		Type:     html.ElementNode,
		Data:     "meta",
		DataAtom: atom.Meta,
		Attr: []html.Attribute{
			{Key: "http-equiv", Val: "Content-Security-Policy"},
			{Key: "content", Val: cspContent},
		},
	}
	head.InsertBefore(meta, head.FirstChild)
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}
