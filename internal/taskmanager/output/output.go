// Package output provides line-oriented capture of worker process output.
// Lines read from the process' stdout and stderr are tagged with their origin
// and stored in an append-only Log. Multiple clients can subscribe to a Log and
// each receive the complete output from the beginning.
package output

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// initialLogCapacity is the starting number of lines held by a Log.
	initialLogCapacity = 64
)

// ErrLogClosed is returned when appending to a Log that has been closed.
var ErrLogClosed = errors.New("log closed")

// Stream identifies which process output stream a Line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Tag returns the severity tag used when rendering lines from the stream.
func (s Stream) Tag() string {
	if s == Stderr {
		return "ERROR"
	}

	return "INFO"
}

// Line is a single line of process output.
type Line struct {
	Stream Stream
	Text   string
	Time   time.Time
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] %s", l.Stream.Tag(), l.Text)
}

// Log is an append-only sequence of Lines. Once closed it is frozen and any
// further appends are rejected.
type Log struct {
	// NOTE: the log grows without bound for the lifetime of the task. Tasks are
	// bounded by the worker timeout, which bounds the output in practice.
	lines  []Line
	closed bool

	mu   sync.Mutex
	cond sync.Cond
}

// NewLog creates an empty, open Log.
func NewLog() *Log {
	l := &Log{lines: make([]Line, 0, initialLogCapacity)}
	l.cond.L = &l.mu

	return l
}

// Append adds line to the end of the Log and wakes any waiting subscribers.
func (l *Log) Append(line Line) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	l.lines = append(l.lines, line)
	l.cond.Broadcast()

	return nil
}

// Close freezes the Log. Subscribers drain the remaining lines and then
// receive io.EOF. Closing a closed Log is a no-op.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.cond.Broadcast()
}

// Closed reports whether the Log has been frozen.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// Lines returns a copy of all lines appended so far.
func (l *Log) Lines() []Line {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := make([]Line, len(l.lines))
	copy(lines, l.lines)

	return lines
}

// Len returns the number of lines appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.lines)
}

// Subscribe returns a Subscription that reads the Log from the first line.
// Closing the Subscription cancels it.
func (l *Log) Subscribe() *Subscription {
	return &Subscription{log: l}
}
