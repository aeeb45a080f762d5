// Package broadcast publishes live task events (log lines and state changes)
// to subscribers outside the process.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 2 * time.Second
)

var (
	ErrClosed    = errors.New("broadcast: publisher closed")
	ErrQueueFull = errors.New("broadcast: queue full")
)

// Kind is the type of an Event.
type Kind string

const (
	KindLog   Kind = "log"
	KindState Kind = "state"
)

// Event is a single task event. Log events carry Stream and Text, state
// events carry State and, for failures, Error.
type Event struct {
	TaskID string `json:"task_id"`
	Kind   Kind   `json:"kind"`
	Stream string `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`
	State  string `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
	TimeMs int64  `json:"ts"`
}

// Decode parses an Event from a published payload.
func Decode(payload []byte) (Event, error) {
	var e Event
	err := sonic.Unmarshal(payload, &e)
	return e, err
}

// TaskChannel is the channel carrying events for a single task.
func TaskChannel(prefix, taskID string) string {
	return prefix + ":task:" + taskID
}

// AllChannel is the channel carrying events for every task.
func AllChannel(prefix string) string {
	return prefix + ":tasks"
}

// Nop discards every Event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Redis publishes Events to Redis Pub/Sub. Publish only enqueues; a single
// background goroutine sends, so a slow or unavailable Redis never blocks the
// caller. Events that don't fit in the queue are dropped and counted.
type Redis struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	events  chan Event
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// Option configures a Redis publisher.
type Option func(*Redis)

// WithQueueSize sets how many Events may wait to be sent.
func WithQueueSize(n int) Option {
	return func(p *Redis) {
		if n > 0 {
			p.events = make(chan Event, n)
		}
	}
}

// WithPublishTimeout bounds each round trip to Redis.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Redis) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewRedis creates a Redis publisher and starts its sender. Close must be
// called to stop it.
func NewRedis(
	rdb redis.UniversalClient,
	prefix string,
	logger *slog.Logger,
	opts ...Option,
) *Redis {
	p := &Redis{
		rdb:     rdb,
		prefix:  prefix,
		timeout: defaultPublishTimeout,
		logger:  logger,
		events:  make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	go p.run()

	return p
}

// Publish enqueues e for sending. It returns ErrQueueFull if the Event was
// dropped and ErrClosed after Close.
func (p *Redis) Publish(_ context.Context, e Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.events <- e:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns the number of Events dropped because the queue was full.
func (p *Redis) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting Events, sends those already queued and waits for the
// sender to exit. It does not close the Redis client.
func (p *Redis) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.done

	return nil
}

func (p *Redis) run() {
	defer close(p.done)

	for e := range p.events {
		if err := p.send(e); err != nil {
			p.logger.Warn(
				"publish task event",
				"task_id", e.TaskID,
				"kind", e.Kind,
				"err", err,
			)
		}
	}
}

func (p *Redis) send(e Event) error {
	payload, err := sonic.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, TaskChannel(p.prefix, e.TaskID), payload)
		pipe.Publish(ctx, AllChannel(p.prefix), payload)
		return nil
	})

	return err
}
