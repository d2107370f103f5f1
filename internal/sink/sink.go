// Package sink holds the output backends for captured files. Every sink
// implements capture.Persister: it receives bytes with a suggested relative
// path and returns the path it actually used.
package sink

import (
	"context"
)

// Sink is a capture.Persister that can be closed.
type Sink interface {
	Persist(ctx context.Context, data []byte, suggestedPath string) (string, error)
	Close() error
}
