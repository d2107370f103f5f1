package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer streams file bytes to an io.Writer, one file after another. It
// backs `-o -` on the command line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a Writer on os.Stdout.
func NewStdout() *Writer { return &Writer{w: os.Stdout} }

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (s *Writer) Persist(_ context.Context, data []byte, suggestedPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return "", fmt.Errorf("sink: write: %w", err)
	}
	return suggestedPath, nil
}

func (s *Writer) Close() error { return nil }
