// CLAUDE:SUMMARY In-process sink handing file bytes to a Go function, used to return captures inline over HTTP and MCP.
package sink

import "context"

// PersistFunc receives a file and returns the path it is known by.
type PersistFunc func(ctx context.Context, data []byte, suggestedPath string) (string, error)

// Callback delivers files via a function call. A nil function accepts and
// discards everything.
type Callback struct {
	fn PersistFunc
}

// NewCallback creates a Callback sink.
func NewCallback(fn PersistFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Persist(ctx context.Context, data []byte, suggestedPath string) (string, error) {
	if c.fn == nil {
		return suggestedPath, nil
	}
	return c.fn(ctx, data, suggestedPath)
}

func (c *Callback) Close() error { return nil }
