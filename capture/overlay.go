// CLAUDE:SUMMARY Detects the fixed header band and hides bottom-anchored overlays; restores them exactly once.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Rect is an element's bounding client rect in CSS pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

// Element is layout metadata for one page element.
type Element struct {
	Path     string `json:"path"`
	Tag      string `json:"tag"`
	Position string `json:"position"`
	Rect     Rect   `json:"rect"`
	Style    string `json:"style"`
}

// Layout is what a Detector gets to look at: the viewport, every fixed or
// sticky element, and the elements matched by the structural and
// site-specific header selectors.
type Layout struct {
	ViewportWidth  float64   `json:"viewportWidth"`
	ViewportHeight float64   `json:"viewportHeight"`
	Hostname       string    `json:"hostname"`
	Positioned     []Element `json:"positioned"`
	Structural     []Element `json:"structural"`
	Site           []Element `json:"site"`
}

// Detection is a Detector's verdict: the header band height in CSS pixels
// and the elements to hide for the duration of the run.
type Detection struct {
	HeaderBand int
	Suppress   []Element
}

// Detector decides, from layout metadata alone, which part of the viewport
// is a repeated header and which overlays must be hidden.
type Detector interface {
	Detect(l Layout) Detection
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(l Layout) Detection

func (f DetectorFunc) Detect(l Layout) Detection { return f(l) }

// HeaderSelectors are probed in addition to fixed/sticky scanning. They
// catch headers that are statically positioned but still repeat, e.g. on
// pages that scroll a container below them.
var HeaderSelectors = []string{
	"header", `[role="banner"]`, "#header", ".header", "nav",
	"#searchform", `form[role="search"]`, "#hdtb", ".sfbg",
}

// SearchSelectors cover the search bar and tab strip of Google result pages.
var SearchSelectors = []string{"#hdtb", "#sfcnt", ".sfbg", ".RNNXgb", ".o3j99"}

// HeuristicDetector is the default Detector.
type HeuristicDetector struct{}

func (HeuristicDetector) Detect(l Layout) Detection {
	vw, vh := l.ViewportWidth, l.ViewportHeight
	var bottom float64
	var suppress []Element

	for _, el := range l.Positioned {
		r := el.Rect
		wide := r.Width > vw*0.5
		atTop := r.Top >= -5 && r.Top < vh*0.25
		plausible := r.Height > 20 && r.Height < vh*0.35
		if wide && atTop && plausible {
			bottom = math.Max(bottom, r.Top+r.Height)
		}
		if r.Bottom > vh*0.7 && r.Top > vh*0.5 && r.Height > 20 {
			suppress = append(suppress, el)
		}
	}

	for _, el := range l.Structural {
		r := el.Rect
		nearTop := r.Top >= -20 && r.Top < vh*0.2
		wide := r.Width > vw*0.5
		plausible := r.Height > 20 && r.Height < vh*0.35
		if nearTop && wide && plausible && r.Bottom > bottom && r.Bottom < vh*0.45 {
			bottom = r.Bottom
		}
	}

	if strings.Contains(l.Hostname, "google") {
		var site float64
		for _, el := range l.Site {
			r := el.Rect
			if r.Top >= -10 && r.Bottom > site && r.Bottom < vh*0.4 {
				site = r.Bottom
			}
		}
		bottom = math.Max(bottom, site)
	}

	return Detection{HeaderBand: int(math.Ceil(bottom)), Suppress: suppress}
}

// HiddenOverlay is one element hidden for the run and the inline style it
// had before.
type HiddenOverlay struct {
	Path          string `json:"path"`
	OriginalStyle string `json:"originalStyle"`
}

// OverlayRecord is the list of elements hidden during a run. Restore puts
// them back and empties the list, so calling it again does nothing.
type OverlayRecord struct {
	items []HiddenOverlay
}

// Len returns the number of elements still hidden.
func (r *OverlayRecord) Len() int {
	if r == nil {
		return 0
	}
	return len(r.items)
}

// Items returns a copy of the hidden elements.
func (r *OverlayRecord) Items() []HiddenOverlay {
	if r == nil {
		return nil
	}
	return append([]HiddenOverlay(nil), r.items...)
}

// Restore writes every saved inline style back. The record is cleared before
// the page is touched: a failed restore is reported but never retried.
func (r *OverlayRecord) Restore(ctx context.Context, s Scripter) error {
	if r.Len() == 0 {
		return nil
	}
	items := r.items
	r.items = nil
	var restored int
	if err := s.Run(ctx, restoreScript, &restored, items); err != nil {
		return fmt.Errorf("restore %d overlays: %w", len(items), err)
	}
	return nil
}

// Suppressor measures the header band and hides bottom overlays.
type Suppressor struct {
	Detector Detector
	Logger   *slog.Logger
}

// Apply reads the page layout, runs the Detector and hides what it selected.
// The returned record is never nil and must be restored by the caller.
func (s *Suppressor) Apply(ctx context.Context, sc Scripter) (int, *OverlayRecord, error) {
	rec := &OverlayRecord{}
	det := s.Detector
	if det == nil {
		det = HeuristicDetector{}
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	var layout Layout
	if err := sc.Run(ctx, layoutScript, &layout, HeaderSelectors, SearchSelectors); err != nil {
		return 0, rec, stageErr(StageOverlay, ErrProbe, err, 0)
	}

	d := det.Detect(layout)
	if len(d.Suppress) > 0 {
		paths := make([]string, 0, len(d.Suppress))
		for _, el := range d.Suppress {
			paths = append(paths, el.Path)
		}
		var hidden []HiddenOverlay
		if err := sc.Run(ctx, hideScript, &hidden, paths); err != nil {
			return 0, rec, stageErr(StageOverlay, ErrProbe, err, 0)
		}
		rec.items = hidden
	}

	log.Debug("capture: overlays detected",
		"header_band", d.HeaderBand, "hidden", rec.Len(),
		"positioned", len(layout.Positioned))
	return d.HeaderBand, rec, nil
}
