package capture

import (
	"context"
	"fmt"
)

// Geometry describes how a page scrolls. It is measured once per run by
// Probe and never modified afterwards.
type Geometry struct {
	// HasContainer is true when the page scrolls a nested element instead of
	// the top-level viewport. ContainerPath is that element's XPath.
	HasContainer  bool   `json:"hasContainer"`
	ContainerPath string `json:"containerPath"`

	// ViewportExtent and TotalExtent are in the scrolling model's own CSS
	// pixels: the container's client/scroll height or the window's.
	ViewportExtent float64 `json:"viewportHeight"`
	TotalExtent    float64 `json:"totalHeight"`
	ViewportWidth  float64 `json:"viewportWidth"`

	// WindowHeight is window.innerHeight. Raster captures always cover the
	// whole window, so this is what converts CSS pixels to raster pixels.
	WindowHeight     float64 `json:"windowHeight"`
	DevicePixelRatio float64 `json:"dpr"`
}

// Single reports whether the page fits in one viewport (with 10% slack), in
// which case no scrolling or stitching is needed.
func (g Geometry) Single() bool {
	return g.TotalExtent <= g.ViewportExtent*1.1
}

func (g Geometry) validate() error {
	if g.ViewportExtent <= 0 {
		return fmt.Errorf("viewport extent %v", g.ViewportExtent)
	}
	if g.WindowHeight <= 0 {
		return fmt.Errorf("window height %v", g.WindowHeight)
	}
	if g.TotalExtent <= 0 {
		return fmt.Errorf("total extent %v", g.TotalExtent)
	}
	if g.HasContainer && g.ContainerPath == "" {
		return fmt.Errorf("container without path")
	}
	return nil
}

// Probe classifies the page's scrolling model and measures its extents. The
// page's scroll position is left as it was found.
func Probe(ctx context.Context, s Scripter) (Geometry, error) {
	var g Geometry
	if err := s.Run(ctx, probeScript, &g); err != nil {
		return Geometry{}, stageErr(StageProbe, ErrProbe, err, 0)
	}
	if err := g.validate(); err != nil {
		return Geometry{}, stageErr(StageProbe, ErrProbe, err, 0)
	}
	if g.DevicePixelRatio <= 0 {
		g.DevicePixelRatio = 1
	}
	return g, nil
}

// scrollTo scrolls the page (or its container) to pos and returns the offset
// the page actually reached.
func scrollTo(ctx context.Context, s Scripter, g Geometry, pos float64) (float64, error) {
	path := ""
	if g.HasContainer {
		path = g.ContainerPath
	}
	var achieved float64
	if err := s.Run(ctx, scrollScript, &achieved, path, pos); err != nil {
		return 0, fmt.Errorf("scroll to %v: %w", pos, err)
	}
	return achieved, nil
}
