package capture

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// MinStep is the smallest scroll step accepted in window-scroll mode. A
// header taller than viewport-MinStep would make progress too slow, so the
// full viewport is used instead.
const MinStep = 100

// StepSize returns how far to scroll between frames. A custom container
// clips the header out of its own viewport, so it advances a full container
// height; window scrolling loses the header band on every frame after the
// first.
func StepSize(g Geometry, headerBand int) float64 {
	if g.HasContainer {
		return g.ViewportExtent
	}
	step := g.ViewportExtent - float64(headerBand)
	if step <= MinStep {
		return g.ViewportExtent
	}
	return step
}

// PlannedSteps is the upper bound on frames for a run. The extra step
// absorbs rounding shortfall; the stuck-offset check usually ends the loop
// earlier.
func PlannedSteps(total, step float64) int {
	return int(math.Ceil(total/step)) + 1
}

// DriverConfig tunes the scroll-and-capture loop.
type DriverConfig struct {
	// Settle is waited after each scroll so lazy content, animations and
	// re-layout finish before the capture. Default: 800ms.
	Settle time.Duration
	// PreSettle is waited after the initial scroll to the top. Default: 300ms.
	PreSettle time.Duration
	Sleeper   Sleeper
	Detector  Detector
	// Progress, if set, is called after every captured frame.
	Progress func(Progress)
	Logger   *slog.Logger
}

func (c *DriverConfig) defaults() {
	if c.Settle <= 0 {
		c.Settle = 800 * time.Millisecond
	}
	if c.PreSettle <= 0 {
		c.PreSettle = 300 * time.Millisecond
	}
	if c.Sleeper == nil {
		c.Sleeper = WallClock
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Capture is the output of a Driver run.
type Capture struct {
	Geometry   Geometry
	HeaderBand int
	Step       float64
	Planned    int
	Frames     []Frame
}

// Driver scrolls a page through its full extent and captures one frame per
// offset. Scroll and capture are strictly sequential: each frame must show
// the settled state of exactly one offset.
type Driver struct {
	page Page
	cfg  DriverConfig
}

// NewDriver creates a Driver for page.
func NewDriver(page Page, cfg DriverConfig) *Driver {
	cfg.defaults()
	return &Driver{page: page, cfg: cfg}
}

// Run captures frames until the content is exhausted, the planned step count
// is reached, or ctx is cancelled. Hidden overlays are restored and the page
// is scrolled back to the top on every exit path, including cancellation.
func (d *Driver) Run(ctx context.Context, g Geometry) (capt *Capture, err error) {
	log := d.cfg.Logger
	capt = &Capture{Geometry: g}

	if _, err := scrollTo(ctx, d.page, g, 0); err != nil {
		return capt, d.fail(ctx, 0, err)
	}
	if err := d.cfg.Sleeper.Sleep(ctx, d.cfg.PreSettle); err != nil {
		return capt, d.fail(ctx, 0, err)
	}

	sup := &Suppressor{Detector: d.cfg.Detector, Logger: log}
	band, rec, err := sup.Apply(ctx, d.page)

	defer func() {
		// Cleanup must run even when ctx is already cancelled.
		cctx := context.WithoutCancel(ctx)
		if rerr := rec.Restore(cctx, d.page); rerr != nil {
			log.Error("capture: restore overlays failed", "error", rerr)
			if err == nil {
				err = stageErr(StageOverlay, ErrRestore, rerr, len(capt.Frames))
			}
		}
		if _, serr := scrollTo(cctx, d.page, g, 0); serr != nil {
			log.Warn("capture: scroll reset failed", "error", serr)
		}
	}()

	if err != nil {
		return capt, err
	}

	capt.HeaderBand = band
	capt.Step = StepSize(g, band)
	capt.Planned = PlannedSteps(g.TotalExtent, capt.Step)

	log.Info("capture: scrolling",
		"container", g.HasContainer, "viewport", g.ViewportExtent,
		"total", g.TotalExtent, "header_band", band,
		"step", capt.Step, "planned", capt.Planned)

	last := 0.0
	for i := 0; i < capt.Planned; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return capt, stageErr(StageCapture, ErrCancelled, cerr, len(capt.Frames))
		}

		requested := float64(i) * capt.Step
		achieved, serr := scrollTo(ctx, d.page, g, requested)
		if serr != nil {
			return capt, d.fail(ctx, len(capt.Frames), serr)
		}
		if i > 0 && achieved <= last {
			log.Debug("capture: scroll stuck, content exhausted",
				"requested", requested, "achieved", achieved)
			break
		}
		last = achieved

		if serr := d.cfg.Sleeper.Sleep(ctx, d.cfg.Settle); serr != nil {
			return capt, d.fail(ctx, len(capt.Frames), serr)
		}

		raster, cerr := d.page.CaptureViewport(ctx)
		if cerr != nil {
			return capt, d.fail(ctx, len(capt.Frames), cerr)
		}
		capt.Frames = append(capt.Frames, Frame{
			Raster:          raster,
			RequestedOffset: requested,
			AchievedOffset:  achieved,
		})

		if d.cfg.Progress != nil {
			d.cfg.Progress(Progress{Frame: len(capt.Frames), Planned: capt.Planned, Offset: achieved})
		}
	}

	return capt, nil
}

// fail classifies a loop error: cancellation wins over the raw cause.
func (d *Driver) fail(ctx context.Context, frames int, cause error) error {
	if cerr := ctx.Err(); cerr != nil {
		return stageErr(StageCapture, ErrCancelled, cerr, frames)
	}
	return stageErr(StageCapture, ErrCapture, cause, frames)
}
