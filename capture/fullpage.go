package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"time"
)

// Config tunes a capture run. The zero value is usable.
type Config struct {
	Settle    time.Duration // after each scroll (default 800ms)
	PreSettle time.Duration // after the initial scroll to top (default 300ms)

	// DivergenceThreshold is the relative disagreement between geometry and
	// frame coverage above which the result is flagged Truncated.
	DivergenceThreshold float64

	// AreaTimeout bounds how long Area waits for the user's selection.
	AreaTimeout time.Duration

	Detector Detector
	Sleeper  Sleeper
	Progress func(Progress)
	Logger   *slog.Logger
	Now      func() time.Time
}

func (c *Config) defaults() {
	if c.DivergenceThreshold <= 0 {
		c.DivergenceThreshold = DefaultDivergenceThreshold
	}
	if c.AreaTimeout <= 0 {
		c.AreaTimeout = 60 * time.Second
	}
	if c.Detector == nil {
		c.Detector = HeuristicDetector{}
	}
	if c.Sleeper == nil {
		c.Sleeper = WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c Config) driver() DriverConfig {
	return DriverConfig{
		Settle:    c.Settle,
		PreSettle: c.PreSettle,
		Sleeper:   c.Sleeper,
		Detector:  c.Detector,
		Progress:  c.Progress,
		Logger:    c.Logger,
	}
}

// FullPage captures the entire scrollable content of page as one PNG and
// persists it as "<name>.png". An empty name is derived from the page title
// and URL. Nothing is persisted when the run fails or is cancelled.
func FullPage(ctx context.Context, page Page, out Persister, name string, cfg Config) (*Result, error) {
	cfg.defaults()
	log := cfg.Logger

	if name == "" {
		name = nameFor(ctx, page)
	}

	g, err := Probe(ctx, page)
	if err != nil {
		return nil, err
	}
	log.Info("capture: geometry",
		"container", g.HasContainer, "viewport", g.ViewportExtent,
		"total", g.TotalExtent, "window", g.WindowHeight, "dpr", g.DevicePixelRatio)

	if g.Single() {
		log.Info("capture: page fits one viewport")
		return visible(ctx, page, out, name, KindFullPage)
	}

	capt, err := NewDriver(page, cfg.driver()).Run(ctx, g)
	if err != nil {
		return nil, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, stageErr(StageCapture, ErrCancelled, cerr, len(capt.Frames))
	}

	plan, err := Plan(g, capt.HeaderBand, capt.Frames, cfg.DivergenceThreshold)
	if err != nil {
		return nil, err
	}
	if plan.Diverged {
		log.Warn("capture: geometry and frame coverage disagree, content may be truncated",
			"geometry_estimate", plan.GeometryEstimate,
			"frame_estimate", plan.FrameEstimate,
			"coverage", plan.Coverage,
			"canvas", plan.Height)
	}

	data, err := Compose(plan, capt.Frames)
	if err != nil {
		return nil, err
	}

	path, err := out.Persist(ctx, data, name+".png")
	if err != nil {
		return nil, stageErr(StagePersist, ErrPersist, err, len(capt.Frames))
	}
	return &Result{
		Path:       path,
		Kind:       KindFullPage,
		Width:      plan.Width,
		Height:     plan.Height,
		Frames:     len(capt.Frames),
		HeaderBand: capt.HeaderBand,
		Truncated:  plan.Diverged,
	}, nil
}

// Visible captures only what is currently rendered in the window.
func Visible(ctx context.Context, page Page, out Persister, name string) (*Result, error) {
	if name == "" {
		name = nameFor(ctx, page)
	}
	return visible(ctx, page, out, name, KindVisible)
}

func visible(ctx context.Context, page Page, out Persister, name, kind string) (*Result, error) {
	r, err := page.CaptureViewport(ctx)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, stageErr(StageCapture, ErrCancelled, cerr, 0)
		}
		return nil, stageErr(StageCapture, ErrCapture, err, 0)
	}
	path, err := out.Persist(ctx, r.PNG, name+".png")
	if err != nil {
		return nil, stageErr(StagePersist, ErrPersist, err, 1)
	}
	return &Result{Path: path, Kind: kind, Width: r.Width, Height: r.Height, Frames: 1}, nil
}

// Selection is a user-selected rectangle in CSS pixels plus the device pixel
// ratio needed to map it onto the raster.
type Selection struct {
	Left      float64 `json:"left"`
	Top       float64 `json:"top"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	DPR       float64 `json:"dpr"`
	Cancelled bool    `json:"cancelled"`
}

// AreaSelector asks the user to pick a rectangle on the page.
type AreaSelector interface {
	SelectArea(ctx context.Context) (Selection, error)
}

// ScriptedSelector shows an in-page drag overlay and waits for the result.
// The overlay is always removed, including on timeout or cancellation.
type ScriptedSelector struct {
	Scripter Scripter
}

func (s ScriptedSelector) SelectArea(ctx context.Context) (Selection, error) {
	defer func() {
		_ = s.Scripter.Run(context.WithoutCancel(ctx), areaCleanupScript, nil)
	}()
	var sel Selection
	if err := s.Scripter.Run(ctx, areaScript, &sel); err != nil {
		return Selection{}, err
	}
	return sel, nil
}

// Area lets the user select a rectangle, captures the viewport and crops it
// to the selection. The file is named by AreaFilename.
func Area(ctx context.Context, page Page, sel AreaSelector, out Persister, cfg Config) (*Result, error) {
	cfg.defaults()
	if sel == nil {
		sel = ScriptedSelector{Scripter: page}
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.AreaTimeout)
	s, err := sel.SelectArea(sctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, stageErr(StageCapture, ErrCancelled, ctx.Err(), 0)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, stageErr(StageCapture, ErrCancelled, err, 0)
		}
		return nil, stageErr(StageProbe, ErrProbe, err, 0)
	}
	if s.Cancelled {
		return nil, stageErr(StageCapture, ErrCancelled, errors.New("selection cancelled"), 0)
	}

	// Let the overlay removal paint before capturing.
	if err := cfg.Sleeper.Sleep(ctx, 200*time.Millisecond); err != nil {
		return nil, stageErr(StageCapture, ErrCancelled, err, 0)
	}

	r, err := page.CaptureViewport(ctx)
	if err != nil {
		return nil, stageErr(StageCapture, ErrCapture, err, 0)
	}
	data, w, h, err := Crop(r, s)
	if err != nil {
		return nil, stageErr(StageStitch, ErrStitch, err, 1)
	}

	info, err := PageInfo(ctx, page)
	if err != nil {
		cfg.Logger.Debug("capture: page info", "error", err)
	}
	path, err := out.Persist(ctx, data, AreaFilename(info.URL, info.Title, cfg.Now()))
	if err != nil {
		return nil, stageErr(StagePersist, ErrPersist, err, 1)
	}
	return &Result{Path: path, Kind: KindArea, Width: w, Height: h, Frames: 1}, nil
}

// Crop cuts sel out of r. The selection is scaled by its DPR and clipped to
// the raster bounds.
func Crop(r Raster, sel Selection) ([]byte, int, int, error) {
	img, err := png.Decode(bytes.NewReader(r.PNG))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode viewport: %w", err)
	}
	dpr := sel.DPR
	if dpr <= 0 {
		dpr = 1
	}
	b := img.Bounds()
	x0 := b.Min.X + int(math.Round(sel.Left*dpr))
	y0 := b.Min.Y + int(math.Round(sel.Top*dpr))
	rect := image.Rect(x0, y0,
		x0+int(math.Round(sel.Width*dpr)),
		y0+int(math.Round(sel.Height*dpr))).Intersect(b)
	if rect.Empty() {
		return nil, 0, 0, fmt.Errorf("selection %vx%v at %v,%v is outside the viewport",
			sel.Width, sel.Height, sel.Left, sel.Top)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, 0, 0, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), rect.Dx(), rect.Dy(), nil
}
