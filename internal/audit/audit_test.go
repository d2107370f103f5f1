package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/pagesaver/dbopen"
	"github.com/hazyhaar/pagesaver/kit"
)

func newTestLogger(t *testing.T, opts ...Option) *Logger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, 16, append([]Option{WithFlushInterval(time.Hour)}, opts...)...)
}

func TestLogSync(t *testing.T) {
	l := newTestLogger(t)
	defer l.Close()

	e := &Entry{Operation: "visible"}
	if err := l.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("defaults not filled: %+v", e)
	}
	if e.Status != StatusSuccess || e.Parameters != "{}" {
		t.Errorf("got status %q params %q", e.Status, e.Parameters)
	}

	got, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Fatalf("got %+v, want one entry %s", got, e.ID)
	}
}

func TestLogAsyncFlushedOnClose(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 40; i++ {
		l.LogAsync(&Entry{Operation: "images"})
	}
	l.Close()

	got, err := l.Query(context.Background(), Filter{Operation: "images", Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 40 {
		t.Errorf("got %d entries, want 40", len(got))
	}
}

func TestIDGenerator(t *testing.T) {
	l := newTestLogger(t, WithIDGenerator(func() string { return "aud_fixed" }))
	defer l.Close()

	e := &Entry{Operation: "area"}
	_ = l.Log(context.Background(), e)
	if e.ID != "aud_fixed" {
		t.Errorf("got %q, want aud_fixed", e.ID)
	}
}

func TestMiddleware(t *testing.T) {
	l := newTestLogger(t)

	ok := Middleware(l, "fullpage")(func(ctx context.Context, req any) (any, error) {
		return "done", nil
	})
	failing := Middleware(l, "archive")(func(ctx context.Context, req any) (any, error) {
		return nil, errors.New("open failed")
	})

	ctx := kit.WithTransport(context.Background(), "mcp")
	ctx = kit.WithRequestID(ctx, "req_1")
	ctx = kit.WithRemoteAddr(ctx, "10.0.0.9")

	resp, err := ok(ctx, map[string]string{"url": "https://example.com"})
	if err != nil || resp != "done" {
		t.Fatalf("got %v, %v", resp, err)
	}
	if _, err := failing(ctx, nil); err == nil {
		t.Fatal("expected error")
	}
	l.Close()

	got, err := l.Query(context.Background(), Filter{Operation: "fullpage"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Transport != "mcp" || e.RequestID != "req_1" || e.RemoteAddr != "10.0.0.9" {
		t.Errorf("got transport %q request %q remote %q", e.Transport, e.RequestID, e.RemoteAddr)
	}
	if e.Parameters != `{"url":"https://example.com"}` {
		t.Errorf("parameters: got %s", e.Parameters)
	}

	failed, _ := l.Query(context.Background(), Filter{Status: StatusError})
	if len(failed) != 1 || failed[0].Operation != "archive" || failed[0].Error != "open failed" {
		t.Errorf("got %+v, want one failed archive entry", failed)
	}
}

func TestCleanup(t *testing.T) {
	l := newTestLogger(t)
	defer l.Close()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	_ = l.Log(ctx, &Entry{Operation: "visible", Timestamp: old})
	_ = l.Log(ctx, &Entry{Operation: "visible"})

	n, err := l.Cleanup(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	recent, _ := l.Query(ctx, Filter{Since: time.Now().Add(-time.Hour)})
	if len(recent) != 1 {
		t.Errorf("got %d recent entries, want 1", len(recent))
	}
}
