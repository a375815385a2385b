package monitor

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrSinkGone is reported when the line consumer fails. The controller stops
// itself when it sees it.
var ErrSinkGone = errors.New("line consumer gone")

// Sink consumes processed lines and status lines.
type Sink interface {
	ProcessLine(line string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string) error

func (f SinkFunc) ProcessLine(line string) error { return f(line) }

// WriterSink writes one line per call to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) ProcessLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.w, line); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkGone, err)
	}
	return nil
}
