package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
)

// DefaultDivergenceThreshold is the relative disagreement between the
// geometry estimate and the captured coverage above which a plan is marked
// Diverged.
const DefaultDivergenceThreshold = 0.05

// Band is the strip of one frame copied onto the canvas.
type Band struct {
	Frame  int // index into the frame slice
	SrcY   int // first source row in the frame raster
	Height int
	DstY   int // first destination row on the canvas
}

// StitchPlan is the full description of the output canvas. It is a pure
// function of the frames, the header band and the geometry.
type StitchPlan struct {
	Width  int
	Height int

	// GeometryEstimate is the canvas height implied by the probed extents;
	// FrameEstimate is what the frames could cover with header rows removed.
	// Height is the smaller of the two.
	GeometryEstimate int
	FrameEstimate    int
	// Coverage is the raster height the frames actually contribute before
	// clipping to Height.
	Coverage int

	HeaderCrop int
	Scale      float64
	Bands      []Band
	Diverged   bool
}

// Plan computes where every frame strip goes on the canvas. threshold <= 0
// selects DefaultDivergenceThreshold.
func Plan(g Geometry, headerBand int, frames []Frame, threshold float64) (StitchPlan, error) {
	if len(frames) == 0 {
		return StitchPlan{}, stageErr(StageStitch, ErrStitch, fmt.Errorf("no frames"), 0)
	}
	if threshold <= 0 {
		threshold = DefaultDivergenceThreshold
	}

	first := frames[0].Raster
	h := first.Height
	if h <= 0 || first.Width <= 0 {
		return StitchPlan{}, stageErr(StageStitch, ErrStitch,
			fmt.Errorf("frame 0 is %dx%d", first.Width, first.Height), len(frames))
	}

	windowHeight := g.WindowHeight
	if windowHeight <= 0 {
		windowHeight = g.ViewportExtent
	}
	scale := float64(h) / windowHeight
	crop := int(math.Round(float64(headerBand) * scale))
	if crop >= h {
		crop = 0
	}
	usable := h - crop

	var geomEst int
	var scrollScale float64
	if g.HasContainer {
		geomEst = crop + int(math.Ceil(g.TotalExtent*float64(usable)/g.ViewportExtent))
		scrollScale = float64(usable) / g.ViewportExtent
	} else {
		geomEst = int(math.Ceil(g.TotalExtent * scale))
		scrollScale = scale
	}
	frameEst := h + (len(frames)-1)*usable

	p := StitchPlan{
		Width:            first.Width,
		Height:           min(geomEst, frameEst),
		GeometryEstimate: geomEst,
		FrameEstimate:    frameEst,
		HeaderCrop:       crop,
		Scale:            scale,
	}
	if p.Height <= 0 {
		return StitchPlan{}, stageErr(StageStitch, ErrStitch,
			fmt.Errorf("canvas height %d", p.Height), len(frames))
	}

	cursor := min(h, p.Height)
	p.Bands = append(p.Bands, Band{Frame: 0, SrcY: 0, Height: cursor, DstY: 0})
	p.Coverage = h

	for i := 1; i < len(frames); i++ {
		delta := frames[i].AchievedOffset - frames[i-1].AchievedOffset
		srcY := max(h-int(math.Round(delta*scrollScale)), crop)
		full := h - srcY
		if full <= 0 {
			continue
		}
		p.Coverage += full

		bandH := min(full, p.Height-cursor)
		if bandH <= 0 {
			continue
		}
		p.Bands = append(p.Bands, Band{Frame: i, SrcY: srcY, Height: bandH, DstY: cursor})
		cursor += bandH
	}

	if math.Abs(float64(geomEst-p.Coverage)) > threshold*float64(geomEst) {
		p.Diverged = true
	}
	return p, nil
}

// Compose draws the planned bands onto one canvas and encodes it as PNG.
func Compose(p StitchPlan, frames []Frame) ([]byte, error) {
	if len(p.Bands) == 0 || p.Height <= 0 || p.Width <= 0 {
		return nil, stageErr(StageStitch, ErrStitch, fmt.Errorf("empty plan"), len(frames))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	decoded := make(map[int]image.Image, len(p.Bands))

	for _, b := range p.Bands {
		if b.Frame < 0 || b.Frame >= len(frames) {
			return nil, stageErr(StageStitch, ErrStitch,
				fmt.Errorf("band references frame %d of %d", b.Frame, len(frames)), len(frames))
		}
		img, ok := decoded[b.Frame]
		if !ok {
			var err error
			img, err = png.Decode(bytes.NewReader(frames[b.Frame].Raster.PNG))
			if err != nil {
				return nil, stageErr(StageStitch, ErrStitch,
					fmt.Errorf("decode frame %d: %w", b.Frame, err), len(frames))
			}
			decoded[b.Frame] = img
		}
		src := img.Bounds()
		dst := image.Rect(0, b.DstY, p.Width, b.DstY+b.Height)
		draw.Draw(canvas, dst, img, image.Pt(src.Min.X, src.Min.Y+b.SrcY), draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, stageErr(StageStitch, ErrStitch, fmt.Errorf("encode: %w", err), len(frames))
	}
	return buf.Bytes(), nil
}
