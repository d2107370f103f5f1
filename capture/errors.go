package capture

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a failure happened in.
type Stage string

const (
	StageProbe   Stage = "probe"
	StageOverlay Stage = "overlay"
	StageCapture Stage = "capture"
	StageStitch  Stage = "stitch"
	StagePersist Stage = "persist"
)

var (
	// ErrProbe means page introspection failed or returned unusable geometry.
	ErrProbe = errors.New("page introspection failed")
	// ErrCapture means a scroll or raster capture failed mid-run.
	ErrCapture = errors.New("raster capture failed")
	// ErrStitch means there was nothing to stitch (no frames or zero height).
	ErrStitch = errors.New("nothing to stitch")
	// ErrPersist means the output could not be saved.
	ErrPersist = errors.New("save failed")
	// ErrRestore means hidden overlays could not be made visible again.
	ErrRestore = errors.New("overlay restore failed")
	// ErrCancelled means the caller cancelled the run.
	ErrCancelled = errors.New("cancelled")
)

// StageError carries the failing stage and the number of frames captured
// before the failure. errors.Is matches both the stage sentinel and the
// underlying cause.
type StageError struct {
	Stage  Stage
	Frames int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, sentinel, cause error, frames int) *StageError {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &StageError{Stage: stage, Frames: frames, Err: err}
}

// Status renders a single user-visible status line for the outcome of a
// capture. It names the stage and reason but never page internals.
func Status(res *Result, err error) string {
	if err == nil {
		if res == nil {
			return "ok"
		}
		s := fmt.Sprintf("saved %s (%dx%d", res.Path, res.Width, res.Height)
		if res.Frames > 1 {
			s += fmt.Sprintf(", %d frames", res.Frames)
		}
		s += ")"
		if res.Truncated {
			s += " [content may be truncated]"
		}
		return s
	}
	var se *StageError
	if errors.As(err, &se) {
		if errors.Is(se, ErrCancelled) {
			return fmt.Sprintf("cancelled after %d frames, nothing saved", se.Frames)
		}
		return fmt.Sprintf("failed (%s): %v", se.Stage, se.Err)
	}
	return "failed: " + err.Error()
}
