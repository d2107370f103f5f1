package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/pagesaver/capture"
)

var (
	_ capture.Replacer = (*Dir)(nil)
	_ capture.Replacer = (*Router)(nil)
)

// Router writes to a primary sink and mirrors to secondaries. The primary
// decides the returned path and its failure fails the call; secondary
// failures are logged only.
type Router struct {
	primary     Sink
	secondaries []Sink
	logger      *slog.Logger
}

// NewRouter creates a router. primary must not be nil.
func NewRouter(logger *slog.Logger, primary Sink, secondaries ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{primary: primary, secondaries: secondaries, logger: logger}
}

func (r *Router) Persist(ctx context.Context, data []byte, suggestedPath string) (string, error) {
	path, err := r.primary.Persist(ctx, data, suggestedPath)
	if err != nil {
		return "", err
	}
	r.mirror(ctx, data, path)
	return path, nil
}

// Replace replaces in place when the primary supports it and falls back to
// Persist otherwise. Secondaries always receive a plain Persist.
func (r *Router) Replace(ctx context.Context, data []byte, relPath string) (string, error) {
	rp, ok := r.primary.(capture.Replacer)
	if !ok {
		return r.Persist(ctx, data, relPath)
	}
	path, err := rp.Replace(ctx, data, relPath)
	if err != nil {
		return "", err
	}
	r.mirror(ctx, data, path)
	return path, nil
}

func (r *Router) mirror(ctx context.Context, data []byte, path string) {
	for _, s := range r.secondaries {
		if _, err := s.Persist(ctx, data, path); err != nil {
			r.logger.Warn("sink: mirror failed", "path", path, "error", err)
		}
	}
}

func (r *Router) Close() error {
	errs := []error{r.primary.Close()}
	for _, s := range r.secondaries {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
