// Package trace implements the append-only CSV trace sink (C8) described
// in spec.md 4.8 and 6: one line per rebalance round, columns
// timestamp,target,cap,measured.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const header = "timestamp,target,cap,measured\n"

// Sink writes trace lines under its own mutex; spec.md 5 requires the
// trace file to be written only under the bookkeeping mutex at the
// caller level, but Sink additionally serializes at the file-handle
// level so it can be reused safely if that ever changes.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *zerolog.Logger
}

// Open creates (or truncates) the CSV file at path and writes the
// header line.
func Open(path string, logger *zerolog.Logger) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: opening %s: %w", path, err)
	}
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: writing header to %s: %w", path, err)
	}
	return &Sink{w: f, closer: f, logger: logger}, nil
}

// NewWithWriter wraps an arbitrary writer (used by tests) as a Sink; the
// header is not written automatically.
func NewWithWriter(w io.Writer, logger *zerolog.Logger) *Sink {
	return &Sink{w: w, logger: logger}
}

// Append writes one trace line. Per spec.md 7, a short write or
// disk-full condition is logged once and swallowed rather than
// propagated — the trace sink is informational, not load-bearing.
func (s *Sink) Append(ts time.Time, target, cap, measured float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s,%g,%g,%g\n", ts.UTC().Format(time.RFC3339Nano), target, cap, measured)
	if _, err := io.WriteString(s.w, line); err != nil && s.logger != nil {
		s.logger.Warn().Err(err).Msg("trace sink: partial write, continuing")
	}
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
