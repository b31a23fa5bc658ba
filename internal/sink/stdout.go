package sink

import (
	"fmt"
	"io"
	"sync"
)

// Stdout is a trivial Sink that writes "key: line\n" to an io.Writer. It
// has no external dependency and exists so the core is runnable with zero
// setup.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout returns a Stdout sink writing to w.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

// Accept writes key and line to the underlying writer, serialised by an
// internal mutex so concurrent callers cannot interleave partial lines.
func (s *Stdout) Accept(key, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s: %s\n", key, line)
	return err
}

// Close is a no-op: Stdout holds no resource to release.
func (s *Stdout) Close() error { return nil }
