package saver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagesaver/dbopen"
	"github.com/hazyhaar/pagesaver/internal/audit"
	"github.com/hazyhaar/pagesaver/shield"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Health(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.saver.Handler(HTTPOptions{}), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestHTTP_VisibleAndHistory(t *testing.T) {
	f := newFixture(t)
	h := f.saver.Handler(HTTPOptions{AllowPrivate: true})

	rec := do(t, h, http.MethodPost, "/api/visible", `{"url":"https://example.com/a","name":"shot"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body)
	}
	var out CaptureOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Result.Path != "shot.png" {
		t.Fatalf("path: got %q", out.Result.Path)
	}

	rec = do(t, h, http.MethodGet, "/api/history?kind=visible", "")
	var hist struct {
		Runs []struct {
			ID string `json:"id"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Runs) != 1 || hist.Runs[0].ID != out.ID {
		t.Errorf("history: got %s", rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/last", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), out.ID) {
		t.Errorf("last: got %d %s", rec.Code, rec.Body)
	}
}

func TestHTTP_ImagesOnPrivateHostNotDownloaded(t *testing.T) {
	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("GIF89a"))
	}))
	defer internal.Close()

	f := newFixture(t)
	f.tab = func(url string) *fakeTab {
		return &fakeTab{url: url, title: "Gallery", images: []string{internal.URL + "/secret.gif"}}
	}
	h := f.saver.Handler(HTTPOptions{})

	rec := do(t, h, http.MethodPost, "/api/images", `{"url":"https://example.com/gallery"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body)
	}
	var out ImagesOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Report == nil || out.Report.Downloaded != 0 || out.Report.Failed != 1 {
		t.Fatalf("report: got %+v, want 0 downloaded, 1 failed", out.Report)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("private server hit %d times, want 0", n)
	}
	if len(f.out.files) != 0 {
		t.Errorf("files: got %v, want none", f.out.files)
	}
}

func TestHTTP_BadRequests(t *testing.T) {
	f := newFixture(t)
	h := f.saver.Handler(HTTPOptions{})

	tests := []struct {
		name, path, body string
	}{
		{"invalid json", "/api/fullpage", `{`},
		{"missing url", "/api/fullpage", `{}`},
		{"private url", "/api/fullpage", `{"url":"http://127.0.0.1/"}`},
		{"bad scheme", "/api/images", `{"url":"file:///etc/passwd"}`},
		{"area without rect", "/api/area", `{"url":"https://93.184.216.34/"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400 (%s)", rec.Code, rec.Body)
			}
		})
	}
	if len(f.tabs) != 0 {
		t.Errorf("browser opened %d tabs for rejected requests", len(f.tabs))
	}
}

func TestHTTP_FailedCapture(t *testing.T) {
	f := newFixture(t)
	h := f.saver.Handler(HTTPOptions{AllowPrivate: true})
	rec := do(t, h, http.MethodPost, "/api/fullpage", `{"url":"https://unreachable.example"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"outcome"`) {
		t.Errorf("outcome missing: %s", rec.Body)
	}
}

func TestHTTP_LastEmpty(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.saver.Handler(HTTPOptions{}), http.MethodGet, "/api/last", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestHTTP_Audited(t *testing.T) {
	f := newFixture(t)
	al := audit.New(dbopen.OpenMemory(t, dbopen.WithSchema(audit.Schema)), 8, audit.WithFlushInterval(time.Hour))
	f.saver.opts.Audit = al
	h := f.saver.Handler(HTTPOptions{AllowPrivate: true})

	do(t, h, http.MethodPost, "/api/visible", `{"url":"https://example.com/a"}`)
	do(t, h, http.MethodPost, "/api/fullpage", `{"url":"https://unreachable.example/"}`)
	al.Close()

	entries, err := al.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	byOp := map[string]*audit.Entry{}
	for _, e := range entries {
		byOp[e.Operation] = e
	}
	if e := byOp["visible"]; e == nil || e.Status != audit.StatusSuccess || e.Transport != "http" || e.RequestID == "" {
		t.Errorf("visible entry: got %+v", e)
	}
	if e := byOp["fullpage"]; e == nil || e.Status != audit.StatusError {
		t.Errorf("fullpage entry: got %+v", e)
	}
}

func TestHTTP_FilesSandboxed(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "archive", "docs.html"), []byte("<html><body>docs</body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := f.saver.Handler(HTTPOptions{FilesRoot: root})

	rec := do(t, h, http.MethodGet, "/files/archive/docs.html", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "docs") {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != shield.FilesPolicy {
		t.Errorf("CSP: got %q, want files policy", got)
	}

	rec = do(t, h, http.MethodGet, "/health", "")
	if got := rec.Header().Get("Content-Security-Policy"); got != shield.APIPolicy {
		t.Errorf("health CSP: got %q, want API policy", got)
	}
}
