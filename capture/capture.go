// Package capture produces screenshots of live pages: the visible viewport,
// a user-selected area, or the whole scrollable page stitched together from
// successive viewport frames.
//
// capture never talks to a browser directly. The host supplies a Scripter
// (page evaluation), a Capturer (viewport raster), a Persister (file output)
// and a Sleeper (settle delays). internal/browser implements the first two on
// top of a rod page; tests use in-memory fakes.
//
// A full-page run is a strict pipeline: Probe measures the page, the
// Suppressor hides bottom overlays and measures the fixed header band, the
// Driver scrolls and captures one frame per offset, and Plan/Compose stitch
// the frames into a single PNG.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"
)

// Scripter evaluates a JavaScript function expression against the live page.
// The function returns a JSON string which is decoded into out. A nil out
// discards the result.
type Scripter interface {
	Run(ctx context.Context, script string, out any, args ...any) error
}

// Capturer captures exactly what is rendered in the visible window.
type Capturer interface {
	CaptureViewport(ctx context.Context) (Raster, error)
}

// Page is a live page that can be both scripted and captured.
type Page interface {
	Scripter
	Capturer
}

// Persister durably stores bytes under a suggested relative path and returns
// the path actually used. Name collisions are resolved by the implementation.
type Persister interface {
	Persist(ctx context.Context, data []byte, suggestedPath string) (string, error)
}

// Replacer stores bytes at exactly the given relative path, replacing any
// previous file there. Outputs whose names are referenced by other files
// (archive pages linking to each other) are written this way.
type Replacer interface {
	Replace(ctx context.Context, data []byte, relPath string) (string, error)
}

// Sleeper is the cooperative suspension point used for settle delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to the Sleeper interface.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// WallClock sleeps on a real timer and returns early with ctx.Err() when the
// context is cancelled.
var WallClock Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Raster is one captured PNG image and its pixel dimensions.
type Raster struct {
	PNG    []byte
	Width  int
	Height int
}

// NewRaster wraps PNG bytes, reading the dimensions from the image header.
func NewRaster(data []byte) (Raster, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Raster{}, fmt.Errorf("capture: decode raster header: %w", err)
	}
	return Raster{PNG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// Frame is one viewport capture taken at a scroll offset. AchievedOffset is
// what the page reported after the scroll request and may be smaller than
// RequestedOffset near the end of the content.
type Frame struct {
	Raster          Raster
	RequestedOffset float64
	AchievedOffset  float64
}

// Progress is reported after each captured frame.
type Progress struct {
	Frame   int // 1-based index of the frame just captured
	Planned int // upper bound on frames for this run
	Offset  float64
}

// Result describes a persisted capture.
type Result struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Frames     int    `json:"frames"`
	HeaderBand int    `json:"header_band,omitempty"`
	// Truncated is set when the geometry and frame coverage disagreed by
	// more than the configured threshold; the canvas still uses the
	// smaller estimate.
	Truncated bool `json:"truncated,omitempty"`
}

// Capture kinds recorded in Result.Kind.
const (
	KindVisible  = "visible"
	KindFullPage = "fullpage"
	KindArea     = "area"
)
