package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"
	"time"
)

// fakePage simulates a page in memory. Content raster row c is painted with
// G=c>>8, B=c&0xff; header rows are pure red.
type fakePage struct {
	mu sync.Mutex

	geom   Geometry
	layout Layout
	info   Info

	scale     float64 // raster pixels per CSS pixel
	width     int     // raster width
	header    float64 // CSS height of the painted header
	maxOffset float64 // scroll clamps here
	stuck     bool    // scroll never moves

	// offsets, when set, replaces the scroll model for non-zero requests:
	// the n-th such request lands on offsets[n].
	offsets []float64
	seq     int

	offset       float64
	scrollCalls  int
	scrollPaths  map[string]int // element path of each scroll, "" for the document
	captures     int
	failCapture  int // 1-based capture index that fails; 0 never
	hidden       map[string]string
	hideCalls    int
	restoreCalls int
	cleanupCalls int
	selection    Selection
	infoErr      error
	trace        []string
}

func newNativePage(viewport, total, header, scale float64) *fakePage {
	return &fakePage{
		geom: Geometry{
			ViewportExtent:   viewport,
			TotalExtent:      total,
			ViewportWidth:    1280,
			WindowHeight:     viewport,
			DevicePixelRatio: scale,
		},
		layout:    headerLayout(viewport, header),
		scale:     scale,
		width:     8,
		header:    header,
		maxOffset: math.Max(0, total-viewport),
		hidden:    map[string]string{},
	}
}

func newContainerPage(viewport, total, header, scale float64) *fakePage {
	p := newNativePage(viewport, total, header, scale)
	p.geom.HasContainer = true
	p.geom.ContainerPath = "/html/body/div[2]"
	p.geom.WindowHeight = viewport + header
	p.layout = headerLayout(viewport+header, header)
	return p
}

func headerLayout(vh, header float64) Layout {
	l := Layout{ViewportWidth: 1280, ViewportHeight: vh, Hostname: "example.com"}
	if header > 0 {
		l.Positioned = append(l.Positioned, Element{
			Path: "/html/body/header", Tag: "header", Position: "fixed",
			Rect: Rect{Top: 0, Bottom: header, Height: header, Width: 1280},
		})
	}
	return l
}

func (p *fakePage) withBottomBanner() *fakePage {
	vh := p.layout.ViewportHeight
	p.layout.Positioned = append(p.layout.Positioned, Element{
		Path: "/html/body/div[9]", Tag: "div", Position: "fixed",
		Rect:  Rect{Top: vh - 80, Bottom: vh, Height: 80, Width: 1280},
		Style: "bottom: 0",
	})
	return p
}

func (p *fakePage) Run(ctx context.Context, script string, out any, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v any
	switch script {
	case probeScript:
		p.trace = append(p.trace, "probe")
		v = p.geom
	case scrollScript:
		pos := args[1].(float64)
		p.scrollCalls++
		if p.scrollPaths == nil {
			p.scrollPaths = map[string]int{}
		}
		p.scrollPaths[args[0].(string)]++
		p.trace = append(p.trace, fmt.Sprintf("scroll:%v", pos))
		switch {
		case p.offsets != nil && pos != 0:
			p.offset = p.offsets[min(p.seq, len(p.offsets)-1)]
			p.seq++
		case p.stuck:
		default:
			p.offset = math.Min(math.Max(pos, 0), p.maxOffset)
		}
		v = p.offset
	case layoutScript:
		p.trace = append(p.trace, "layout")
		v = p.layout
	case hideScript:
		p.hideCalls++
		var items []HiddenOverlay
		for _, path := range args[0].([]string) {
			style := ""
			for _, el := range p.layout.Positioned {
				if el.Path == path {
					style = el.Style
				}
			}
			p.hidden[path] = style
			items = append(items, HiddenOverlay{Path: path, OriginalStyle: style})
		}
		v = items
	case restoreScript:
		p.restoreCalls++
		p.trace = append(p.trace, "restore")
		items := args[0].([]HiddenOverlay)
		for _, it := range items {
			delete(p.hidden, it.Path)
		}
		v = len(items)
	case pageInfoScript:
		if p.infoErr != nil {
			return p.infoErr
		}
		v = p.info
	case areaScript:
		if err := ctx.Err(); err != nil {
			return err
		}
		v = p.selection
	case areaCleanupScript:
		p.cleanupCalls++
		v = true
	default:
		return errors.New("fake: unknown script")
	}

	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *fakePage) CaptureViewport(ctx context.Context) (Raster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captures++
	p.trace = append(p.trace, "capture")
	if p.failCapture > 0 && p.captures == p.failCapture {
		return Raster{}, errors.New("fake: capture failed")
	}

	h := int(math.Round(p.geom.WindowHeight * p.scale))
	crop := int(math.Round(p.header * p.scale))
	base := int(math.Round(p.offset * p.scale))
	img := image.NewRGBA(image.Rect(0, 0, p.width, h))
	for r := 0; r < h; r++ {
		var c color.RGBA
		switch {
		case r < crop:
			c = color.RGBA{R: 255, A: 255}
		case p.geom.HasContainer:
			c = contentColor(base + r - crop)
		default:
			c = contentColor(base + r)
		}
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, r, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Raster{}, err
	}
	return Raster{PNG: buf.Bytes(), Width: p.width, Height: h}, nil
}

func contentColor(row int) color.RGBA {
	return color.RGBA{G: uint8(row >> 8), B: uint8(row), A: 255}
}

// rowAt decodes the marker of canvas row y: -1 for header, else the content row.
func rowAt(t *testing.T, img image.Image, y int) int {
	t.Helper()
	r, g, b, _ := img.At(0, y).RGBA()
	if r>>8 == 255 {
		return -1
	}
	return int(g>>8)<<8 | int(b>>8)
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	return img
}

type memPersister struct {
	files map[string][]byte
	err   error
}

func newMemPersister() *memPersister { return &memPersister{files: map[string][]byte{}} }

func (m *memPersister) Persist(_ context.Context, data []byte, path string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.files[path] = data
	return path, nil
}

var noSleep = SleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

func testConfig() Config {
	return Config{Sleeper: noSleep}
}
