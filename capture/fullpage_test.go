package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFullPage_SingleViewport(t *testing.T) {
	p := newNativePage(1000, 1050, 0, 1)
	p.info = Info{Title: "Short page", URL: "https://example.com/"}
	out := newMemPersister()

	res, err := FullPage(context.Background(), p, out, "", testConfig())
	if err != nil {
		t.Fatalf("fullpage: %v", err)
	}
	if p.captures != 1 {
		t.Errorf("captures: got %d, want 1", p.captures)
	}
	if p.scrollCalls != 0 {
		t.Errorf("scroll calls: got %d, want 0", p.scrollCalls)
	}
	if res.Path != "Short page.png" || res.Frames != 1 {
		t.Errorf("result: got %+v", res)
	}
	raw, _ := p.CaptureViewport(context.Background())
	if !bytes.Equal(out.files["Short page.png"], raw.PNG) {
		t.Error("single-viewport output should be the raw frame")
	}
}

func TestFullPage_ScenarioNativeNoHeader(t *testing.T) {
	p := newNativePage(1000, 5000, 0, 2)
	out := newMemPersister()

	res, err := FullPage(context.Background(), p, out, "native", testConfig())
	if err != nil {
		t.Fatalf("fullpage: %v", err)
	}
	// One scroll to top, six planned steps, one reset.
	if got := p.scrollCalls - 2; got != 6 {
		t.Errorf("requested steps: got %d, want 6", got)
	}
	if res.Frames != 5 {
		t.Errorf("frames: got %d, want 5", res.Frames)
	}
	if res.Height != 10000 {
		t.Errorf("canvas height: got %d, want 10000", res.Height)
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
	img := decodePNG(t, out.files["native.png"])
	for _, y := range []int{0, 1999, 2000, 5555, 9999} {
		if got := rowAt(t, img, y); got != y {
			t.Errorf("row %d: got %d, want %d", y, got, y)
		}
	}
}

func TestFullPage_ScenarioFixedHeader(t *testing.T) {
	p := newNativePage(900, 3000, 150, 2)

	capt, err := NewDriver(p, DriverConfig{Sleeper: noSleep}).Run(context.Background(), p.geom)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if capt.Step != 750 {
		t.Errorf("step: got %v, want 750", capt.Step)
	}
	plan, err := Plan(p.geom, capt.HeaderBand, capt.Frames, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	h := capt.Frames[0].Raster.Height
	// Full steps contribute the frame minus the scaled header; the last one
	// is shorter because the page ran out.
	for _, b := range plan.Bands[1 : len(plan.Bands)-1] {
		if b.Height != h-300 {
			t.Errorf("band %d: got %d rows, want %d", b.Frame, b.Height, h-300)
		}
	}

	out := newMemPersister()
	p2 := newNativePage(900, 3000, 150, 2)
	res, err := FullPage(context.Background(), p2, out, "header", testConfig())
	if err != nil {
		t.Fatalf("fullpage: %v", err)
	}
	if res.HeaderBand != 150 {
		t.Errorf("header band: got %d, want 150", res.HeaderBand)
	}
	if res.Height != 6000 {
		t.Errorf("canvas height: got %d, want 6000", res.Height)
	}
}

func TestFullPage_Container(t *testing.T) {
	// Container scroll range 3000 over a 1000px viewport, 100px header above it.
	p := newContainerPage(1000, 4000, 100, 1.5)
	out := newMemPersister()

	res, err := FullPage(context.Background(), p, out, "container", testConfig())
	if err != nil {
		t.Fatalf("fullpage: %v", err)
	}
	if res.Frames != 4 {
		t.Errorf("frames: got %d, want 4", res.Frames)
	}
	if res.Height != 6150 {
		t.Errorf("canvas height: got %d, want 6150", res.Height)
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
	if p.scrollPaths[""] != 0 || p.scrollPaths[p.geom.ContainerPath] != p.scrollCalls {
		t.Errorf("scrolls: got %v, want all %d on %s", p.scrollPaths, p.scrollCalls, p.geom.ContainerPath)
	}

	img := decodePNG(t, out.files["container.png"])
	if got := img.Bounds().Dy(); got != 6150 {
		t.Fatalf("decoded height: got %d, want 6150", got)
	}
	bad := 0
	for y := 0; y < 6150; y++ {
		want := y - 150
		if y < 150 {
			want = -1
		}
		if rowAt(t, img, y) != want {
			bad++
		}
	}
	if bad != 0 {
		t.Errorf("bad rows: got %d, want 0", bad)
	}
}

func TestFullPage_ScenarioCancelled(t *testing.T) {
	p := newNativePage(1000, 5000, 0, 1).withBottomBanner()
	out := newMemPersister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig()
	cfg.Progress = func(ev Progress) {
		if ev.Planned != 6 {
			t.Errorf("planned: got %d, want 6", ev.Planned)
		}
		if ev.Frame == 2 {
			cancel()
		}
	}

	res, err := FullPage(ctx, p, out, "cancelled", cfg)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if res != nil {
		t.Errorf("result: got %+v, want nil", res)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Frames != 2 {
		t.Fatalf("stage error: got %+v", se)
	}
	if p.captures != 2 {
		t.Errorf("captures: got %d, want 2", p.captures)
	}
	if p.restoreCalls != 1 || len(p.hidden) != 0 {
		t.Errorf("restore calls %d, still hidden %v", p.restoreCalls, p.hidden)
	}
	if p.offset != 0 {
		t.Errorf("final offset: got %v, want 0", p.offset)
	}
	if len(out.files) != 0 {
		t.Errorf("files written: %v", len(out.files))
	}
	if got := Status(res, err); got != "cancelled after 2 frames, nothing saved" {
		t.Errorf("status: got %q", got)
	}
}

func TestFullPage_PersistFailure(t *testing.T) {
	p := newNativePage(1000, 3000, 0, 1)
	out := newMemPersister()
	out.err = errors.New("disk full")

	_, err := FullPage(context.Background(), p, out, "x", testConfig())
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("got %v, want ErrPersist", err)
	}
	if got := Status(nil, err); !strings.HasPrefix(got, "failed (persist)") {
		t.Errorf("status: got %q", got)
	}
}

func TestFullPage_ProbeFailure(t *testing.T) {
	p := newNativePage(1000, 3000, 0, 1)
	p.geom.WindowHeight = 0

	_, err := FullPage(context.Background(), p, newMemPersister(), "x", testConfig())
	if !errors.Is(err, ErrProbe) {
		t.Fatalf("got %v, want ErrProbe", err)
	}
	if p.captures != 0 {
		t.Errorf("captures: got %d, want 0", p.captures)
	}
}

func TestVisible(t *testing.T) {
	p := newNativePage(800, 5000, 0, 1)
	p.info = Info{Title: "A: B", URL: "https://www.example.com/x"}
	out := newMemPersister()

	res, err := Visible(context.Background(), p, out, "")
	if err != nil {
		t.Fatalf("visible: %v", err)
	}
	if res.Path != "A- B.png" || res.Kind != KindVisible || res.Height != 800 {
		t.Errorf("result: got %+v", res)
	}
}

type selectorFunc func(ctx context.Context) (Selection, error)

func (f selectorFunc) SelectArea(ctx context.Context) (Selection, error) { return f(ctx) }

func TestArea_CropsSelection(t *testing.T) {
	p := newNativePage(500, 500, 0, 2)
	p.width = 200
	p.info = Info{Title: "Intro", URL: "https://www.example.com/docs/123/intro.html"}
	p.selection = Selection{Left: 10, Top: 20, Width: 30, Height: 40, DPR: 2}
	out := newMemPersister()

	cfg := testConfig()
	cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC) }
	res, err := Area(context.Background(), p, nil, out, cfg)
	if err != nil {
		t.Fatalf("area: %v", err)
	}
	if res.Width != 60 || res.Height != 80 {
		t.Errorf("size: got %dx%d, want 60x80", res.Width, res.Height)
	}
	if res.Path != "2026-03-01_intro-area_14-05-09.png" {
		t.Errorf("path: got %q", res.Path)
	}
	if p.cleanupCalls != 1 {
		t.Errorf("cleanup calls: got %d, want 1", p.cleanupCalls)
	}
	img := decodePNG(t, out.files[res.Path])
	if got := rowAt(t, img, 0); got != 40 {
		t.Errorf("first cropped row: got %d, want 40", got)
	}
}

func TestArea_PageInfoFailure(t *testing.T) {
	p := newNativePage(500, 500, 0, 1)
	p.selection = Selection{Left: 0, Top: 0, Width: 10, Height: 10, DPR: 1}
	p.infoErr = errors.New("fake: target closed")
	out := newMemPersister()

	var logs bytes.Buffer
	cfg := testConfig()
	cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC) }
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	res, err := Area(context.Background(), p, nil, out, cfg)
	if err != nil {
		t.Fatalf("area: %v", err)
	}
	if res.Path != "2026-03-01_page-area_14-05-09.png" {
		t.Errorf("path: got %q, want the generic name", res.Path)
	}
	if !strings.Contains(logs.String(), "capture: page info") || !strings.Contains(logs.String(), "target closed") {
		t.Errorf("logs: got %q, want the page info error", logs.String())
	}
}

func TestArea_Cancelled(t *testing.T) {
	p := newNativePage(500, 500, 0, 1)
	p.selection = Selection{Cancelled: true}
	out := newMemPersister()

	_, err := Area(context.Background(), p, nil, out, testConfig())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if len(out.files) != 0 || p.captures != 0 {
		t.Errorf("files %d, captures %d, want none", len(out.files), p.captures)
	}
	if p.cleanupCalls != 1 {
		t.Errorf("cleanup calls: got %d, want 1", p.cleanupCalls)
	}
}

func TestArea_Timeout(t *testing.T) {
	p := newNativePage(500, 500, 0, 1)
	sel := selectorFunc(func(ctx context.Context) (Selection, error) {
		<-ctx.Done()
		return Selection{}, ctx.Err()
	})
	cfg := testConfig()
	cfg.AreaTimeout = 10 * time.Millisecond

	_, err := Area(context.Background(), p, sel, newMemPersister(), cfg)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
}

func TestCrop_ClipsToBounds(t *testing.T) {
	p := newNativePage(100, 100, 0, 1)
	p.width = 50
	r, _ := p.CaptureViewport(context.Background())

	_, w, h, err := Crop(r, Selection{Left: 40, Top: 90, Width: 30, Height: 30, DPR: 1})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if w != 10 || h != 10 {
		t.Errorf("size: got %dx%d, want 10x10", w, h)
	}
	if _, _, _, err := Crop(r, Selection{Left: 500, Top: 500, Width: 10, Height: 10}); err == nil {
		t.Error("expected error for selection outside the viewport")
	}
}
