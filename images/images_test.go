package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/internal/fetcher"
)

type fakePage struct {
	url     string
	raw     []string
	cookies []*http.Cookie
	args    []any
}

func (p *fakePage) Run(_ context.Context, script string, out any, args ...any) error {
	var v any
	if script == collectScript {
		p.args = args
		v = p.raw
	} else {
		v = map[string]string{"title": "Gallery", "url": p.url}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (p *fakePage) Cookies(context.Context) ([]*http.Cookie, error) { return p.cookies, nil }

type memOut struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memOut) Persist(_ context.Context, data []byte, p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[p] = data
	return p, nil
}

var noSleep = capture.SleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

func TestCleanURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://cdn.example.com/a.jpg?w=200&h=100", "https://cdn.example.com/a.jpg"},
		{"https://cdn.example.com/a.jpg?v=3&quality=80", "https://cdn.example.com/a.jpg?v=3"},
		{"https://cdn.example.com/a.jpg?v=3", "https://cdn.example.com/a.jpg?v=3"},
		{"https://cdn.example.com/a.jpg", "https://cdn.example.com/a.jpg"},
	}
	for _, tt := range tests {
		if got := CleanURL(tt.in); got != tt.want {
			t.Errorf("CleanURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	raw := []string{
		"https://x.com/a.png?w=10",
		"https://x.com/a.png?w=20",
		"data:image/png;base64,AAAA",
		"blob:https://x.com/123",
		"http://x.com/b.gif",
	}
	got := Normalize(raw)
	want := []string{"https://x.com/a.png", "http://x.com/b.gif"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		url   string
		index int
		want  string
	}{
		{"https://x.com/img/photo.jpg", 0, "photo.jpg"},
		{"https://x.com/img/my%20photo.PNG", 0, "my photo.PNG"},
		{"https://x.com/img/photo", 0, "photo.jpg"},
		{"https://x.com/img.webp/raw", 0, "raw.webp"},
		{"https://x.com/a:b.gif", 0, "a-b.gif"},
		{"not a url", 7, "image-7.jpg"},
	}
	for _, tt := range tests {
		if got := Filename(tt.url, tt.index); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestFilenameShortUsesHash(t *testing.T) {
	got := Filename("https://cdn.example.com/a", 0)
	if !strings.HasPrefix(got, "cdn-example-com-") || !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("got %q, want cdn-example-com-<hash>.jpg", got)
	}
	if again := Filename("https://cdn.example.com/a", 3); again != got {
		t.Errorf("hash not stable: got %q, want %q", again, got)
	}
	if other := Filename("https://cdn.example.com/b", 0); other == got {
		t.Errorf("distinct urls share name %q", got)
	}
}

func TestFilenameTruncates(t *testing.T) {
	long := strings.Repeat("x", 120) + ".png"
	got := Filename("https://x.com/"+long, 0)
	// 80 chars, extension lost by truncation, so .png is re-appended from the path.
	if got != strings.Repeat("x", 80)+".png" {
		t.Fatalf("got %q (len %d)", got, len(got))
	}
}

func TestURLHash(t *testing.T) {
	// "a" hashes to 97, which is "2p" in base 36.
	if got := urlHash("a"); got != "2p" {
		t.Fatalf("got %q, want %q", got, "2p")
	}
	if got := urlHash(""); got != "0" {
		t.Fatalf("got %q, want %q", got, "0")
	}
}

func newImageServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var cookieSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if c, err := r.Cookie("session"); err == nil {
			cookieSeen = append(cookieSeen, r.URL.Path+"="+c.Value)
		}
		mu.Unlock()
		switch r.URL.Path {
		case "/big.png":
			w.Header().Set("Content-Length", "2048")
			if r.Method == http.MethodGet {
				w.Write(make([]byte, 2048))
			}
		case "/tiny.png":
			w.Header().Set("Content-Length", "10")
			if r.Method == http.MethodGet {
				w.Write(make([]byte, 10))
			}
		case "/missing.png":
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &cookieSeen
}

func TestExtract(t *testing.T) {
	srv, seen := newImageServer(t)
	page := &fakePage{
		url: srv.URL + "/gallery",
		raw: []string{
			srv.URL + "/big.png?w=100",
			srv.URL + "/big.png",
			srv.URL + "/tiny.png",
			srv.URL + "/missing.png",
		},
		cookies: []*http.Cookie{{Name: "session", Value: "s1"}},
	}
	out := &memOut{}
	opts := DefaultOptions()
	opts.MinSize = 100
	opts.Sleeper = noSleep
	var progress []string
	opts.Progress = func(p Progress) { progress = append(progress, p.State) }

	rep, err := Extract(context.Background(), page, fetcher.New(), out, opts)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rep.Found != 3 || rep.Downloaded != 1 || rep.Skipped != 1 || rep.Failed != 1 {
		t.Fatalf("got %+v, want found 3 downloaded 1 skipped 1 failed 1", rep)
	}
	if len(rep.FailedURLs) != 1 || !strings.HasSuffix(rep.FailedURLs[0], "/missing.png") {
		t.Errorf("failed urls: got %v", rep.FailedURLs)
	}
	if _, ok := out.files["images/big.png"]; !ok {
		t.Errorf("got files %v, want images/big.png", out.files)
	}
	if strings.Join(progress, ",") != "downloaded,skipped,failed" {
		t.Errorf("progress: got %v", progress)
	}
	found := false
	for _, s := range *seen {
		if s == "/big.png=s1" {
			found = true
		}
	}
	if !found {
		t.Errorf("same-origin download did not carry page cookie: %v", *seen)
	}
	if len(page.args) != 2 || page.args[0] != true || page.args[1] != true {
		t.Errorf("collect args: got %v", page.args)
	}
}

func TestExtractCrossOriginNoCookies(t *testing.T) {
	srv, seen := newImageServer(t)
	page := &fakePage{
		url:     "https://other.example/page",
		raw:     []string{srv.URL + "/big.png"},
		cookies: []*http.Cookie{{Name: "session", Value: "s1"}},
	}
	opts := DefaultOptions()
	opts.Sleeper = noSleep
	rep, err := Extract(context.Background(), page, fetcher.New(), &memOut{}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Downloaded != 1 {
		t.Fatalf("downloaded: got %d, want 1", rep.Downloaded)
	}
	if len(*seen) != 0 {
		t.Errorf("cookies leaked cross-origin: %v", *seen)
	}
}

func TestExtractCancelled(t *testing.T) {
	srv, _ := newImageServer(t)
	var raw []string
	for i := 0; i < 5; i++ {
		raw = append(raw, fmt.Sprintf("%s/big.png?v=%d", srv.URL, i))
	}
	page := &fakePage{url: srv.URL, raw: raw}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := DefaultOptions()
	opts.Sleeper = capture.SleepFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	out := &memOut{}
	rep, err := Extract(ctx, page, fetcher.New(), out, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Cancelled {
		t.Fatal("got Cancelled false, want true")
	}
	if rep.Downloaded != 1 || len(out.files) != 1 {
		t.Errorf("downloaded: got %d (%d files), want 1", rep.Downloaded, len(out.files))
	}
	if !strings.Contains(rep.Status(), "cancelled") {
		t.Errorf("status: got %q", rep.Status())
	}
}
