package output

import (
	"io"
	"sync/atomic"
)

// Subscription reads lines from a Log, internally tracking its position and
// waiting for new lines as they arrive. Safe for concurrent use.
type Subscription struct {
	position int
	closed   atomic.Bool

	log *Log
}

// Next performs a blocking read of the next line. When the Log is closed and
// every line has been read, or the Subscription is closed, it returns io.EOF.
func (s *Subscription) Next() (Line, error) {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	// Broadcast is called on 'append', 'log closed' and 'subscription closed'.
	for s.position >= len(s.log.lines) && !s.isFinished() {
		s.log.cond.Wait()
	}

	if s.closed.Load() || s.position >= len(s.log.lines) {
		return Line{}, io.EOF
	}

	line := s.log.lines[s.position]
	s.position++

	return line, nil
}

// Close is used by a client to 'unsubscribe'. It marks the Subscription as
// closed and wakes any waiting reads. Closing twice returns io.ErrClosedPipe.
func (s *Subscription) Close() error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	if s.closed.Swap(true) {
		return io.ErrClosedPipe
	}

	s.log.cond.Broadcast()

	return nil
}

// isFinished must be called with the log mutex held.
func (s *Subscription) isFinished() bool {
	return s.closed.Load() ||
		(s.log.closed && s.position >= len(s.log.lines))
}
