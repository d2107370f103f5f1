package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/pagesaver/horosafe"
)

func TestDir_Collisions(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	want := []string{"shot.png", "shot (1).png", "shot (2).png"}
	for i, w := range want {
		got, err := d.Persist(ctx, []byte{byte(i)}, "shot.png")
		if err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
		if got != w {
			t.Errorf("persist %d: got %q, want %q", i, got, w)
		}
	}
	data, err := os.ReadFile(filepath.Join(root, "shot (1).png"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{1}) {
		t.Errorf("content: got %v, want [1]", data)
	}
}

func TestDir_Subdirectories(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)

	got, err := d.Persist(context.Background(), []byte("x"), "archive/docs/guide/intro.html")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if got != "archive/docs/guide/intro.html" {
		t.Errorf("got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "archive", "docs", "guide", "intro.html")); err != nil {
		t.Errorf("stat: %v", err)
	}
}

func TestDir_Replace(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)
	ctx := context.Background()

	for _, content := range []string{"old", "new"} {
		got, err := d.Replace(ctx, []byte(content), "archive/guide.html")
		if err != nil {
			t.Fatalf("replace %s: %v", content, err)
		}
		if got != "archive/guide.html" {
			t.Errorf("replace %s: got %q, want archive/guide.html", content, got)
		}
	}
	data, err := os.ReadFile(filepath.Join(root, "archive", "guide.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("content: got %q, want new", data)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "archive"))
	if len(entries) != 1 {
		t.Errorf("entries: got %d, want 1 (no temp or numbered copies)", len(entries))
	}
	if _, err := d.Replace(ctx, []byte("x"), "../escape.html"); !errors.Is(err, horosafe.ErrPathTraversal) {
		t.Errorf("traversal: got %v, want ErrPathTraversal", err)
	}
}

func TestDir_Traversal(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	_, err := d.Persist(context.Background(), []byte("x"), "../escape.png")
	if !errors.Is(err, horosafe.ErrPathTraversal) {
		t.Fatalf("got %v, want ErrPathTraversal", err)
	}
	if _, err := d.Persist(context.Background(), []byte("x"), ""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestDir_Cancelled(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Persist(ctx, []byte("x"), "a.png"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

type failSink struct{ closed bool }

func (f *failSink) Persist(context.Context, []byte, string) (string, error) {
	return "", errors.New("boom")
}
func (f *failSink) Close() error { f.closed = true; return nil }

func TestRouter(t *testing.T) {
	var mirrored []string
	primary := NewCallback(func(_ context.Context, _ []byte, p string) (string, error) {
		return "primary/" + p, nil
	})
	mirror := NewCallback(func(_ context.Context, _ []byte, p string) (string, error) {
		mirrored = append(mirrored, p)
		return p, nil
	})
	bad := &failSink{}

	r := NewRouter(nil, primary, bad, mirror)
	got, err := r.Persist(context.Background(), []byte("x"), "a.png")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if got != "primary/a.png" {
		t.Errorf("path: got %q", got)
	}
	if len(mirrored) != 1 || mirrored[0] != "primary/a.png" {
		t.Errorf("mirrored: got %v", mirrored)
	}
	if err := r.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if !bad.closed {
		t.Error("secondary not closed")
	}

	if _, err := NewRouter(nil, bad).Persist(context.Background(), nil, "a.png"); err == nil {
		t.Error("expected primary failure to propagate")
	}
}

func TestRouter_Replace(t *testing.T) {
	root := t.TempDir()
	d, _ := NewDir(root)
	var mirrored []string
	mirror := NewCallback(func(_ context.Context, _ []byte, p string) (string, error) {
		mirrored = append(mirrored, p)
		return p, nil
	})
	r := NewRouter(nil, d, mirror)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := r.Replace(ctx, []byte("page"), "archive/a.html")
		if err != nil {
			t.Fatalf("replace %d: %v", i, err)
		}
		if got != "archive/a.html" {
			t.Errorf("replace %d: got %q", i, got)
		}
	}
	if len(mirrored) != 2 || mirrored[1] != "archive/a.html" {
		t.Errorf("mirrored: got %v", mirrored)
	}

	// A primary that cannot replace falls back to Persist.
	var persisted int
	plain := NewCallback(func(_ context.Context, _ []byte, p string) (string, error) {
		persisted++
		return p, nil
	})
	if _, err := NewRouter(nil, plain).Replace(ctx, []byte("x"), "a.html"); err != nil || persisted != 1 {
		t.Errorf("fallback: got err %v, %d persists, want nil and 1", err, persisted)
	}
}

func TestWebhook(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Header.Get("X-Pagesaver-Path")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	p, err := NewWebhook(srv.URL).Persist(context.Background(), []byte("png"), "shot.png")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if p != "shot.png" || gotPath != "shot.png" || gotType != "image/png" || string(gotBody) != "png" {
		t.Errorf("got path=%q header=%q type=%q body=%q", p, gotPath, gotType, gotBody)
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewWebhook(srv.URL, WithWebhookRetries(3)).Persist(context.Background(), nil, "a.png")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if _, err := w.Persist(context.Background(), []byte("ab"), "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Persist(context.Background(), []byte("cd"), "y"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "abcd" {
		t.Errorf("got %q, want abcd", buf.String())
	}
}
