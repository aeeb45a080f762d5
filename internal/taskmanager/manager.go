package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/nixpig/jobsearch/internal/logging"
	"github.com/nixpig/jobsearch/internal/results"
	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
	"github.com/nixpig/jobsearch/internal/taskmanager/output"
)

var errShutdown = errors.New("manager shut down")

// TaskStatus is the view of a Task returned to clients. Jobs is only set
// when the Task has completed.
type TaskStatus struct {
	TaskSnapshot

	Jobs []results.Job

	// ResultsError is set when the Task completed but its results could not
	// be read. Jobs is empty in that case.
	ResultsError string
}

// Manager is responsible for starting Tasks and answering queries about
// them. Each Task's worker is supervised in its own goroutine, tracked so
// that Shutdown can wait for it.
type Manager struct {
	registry   *Registry
	supervisor *Supervisor
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

type managerOptions struct {
	registry  *Registry
	publisher EventPublisher
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithRegistry makes the Manager store Tasks in r instead of a new Registry.
func WithRegistry(r *Registry) Option {
	return func(o *managerOptions) { o.registry = r }
}

// WithPublisher sends live task events to p.
func WithPublisher(p EventPublisher) Option {
	return func(o *managerOptions) { o.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// NewManager creates a Manager that runs the worker described by cfg. It
// fails if the worker program can't be found, the work directory can't be
// created or the cgroup root isn't a cgroup v2 hierarchy.
func NewManager(cfg WorkerConfig, opts ...Option) (*Manager, error) {
	o := &managerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.registry == nil {
		o.registry = NewRegistry()
	}

	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	cfg = cfg.withDefaults()

	if cfg.Program == "" {
		return nil, errors.New("worker program cannot be empty")
	}

	if _, err := exec.LookPath(cfg.Program); err != nil {
		return nil, fmt.Errorf("find worker program: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	if cfg.CgroupRoot != "" {
		if err := cgroups.ValidateCgroupRoot(cfg.CgroupRoot); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	return &Manager{
		registry:   o.registry,
		supervisor: NewSupervisor(o.registry, cfg, o.publisher, o.logger),
		logger:     o.logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// StartTask validates input, records a new running Task and launches its
// worker in the background. It returns the Task's ID without waiting for the
// worker. Invalid input returns an error wrapping ErrInvalidInput and
// records nothing.
func (m *Manager) StartTask(ctx context.Context, input Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := input.Normalize()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("%w: %w", ErrInternal, errShutdown)
	}

	id := m.registry.Create(in)

	taskCtx := logging.ContextAttrs(m.ctx, slog.String("task_id", id))

	m.wg.Go(func() {
		m.supervisor.Run(taskCtx, id, in)
	})

	m.logger.Debug("task started", "task_id", id, "mode", in.Mode())

	return id, nil
}

// QueryTask returns the status of the Task with the given id or
// ErrTaskNotFound if it doesn't exist. Results are read from the worker's
// artifact on every call once the Task has completed.
func (m *Manager) QueryTask(id string) (*TaskStatus, error) {
	snap, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}

	status := &TaskStatus{TaskSnapshot: *snap}

	if snap.State != TaskStateCompleted {
		return status, nil
	}

	jobs, err := results.ReadFile(m.supervisor.ArtifactPath(id))
	if err != nil {
		m.logger.Warn("read task results", "task_id", id, "err", err)

		status.Jobs = []results.Job{}
		status.ResultsError = err.Error()

		return status, nil
	}

	status.Jobs = jobs

	return status, nil
}

// RemoveTask deletes the Task with the given id or returns ErrTaskNotFound if
// it doesn't exist.
//
// A running worker is not stopped: it runs to exit or timeout and its
// outcome is discarded.
func (m *Manager) RemoveTask(id string) error {
	state, err := m.registry.Delete(id)
	if err != nil {
		return err
	}

	// Otherwise the Supervisor cleans up when the worker finishes.
	if state.IsTerminal() {
		m.supervisor.removeTaskDir(
			logging.ContextAttrs(m.ctx, slog.String("task_id", id)),
			id,
		)
	}

	m.logger.Debug("task removed", "task_id", id, "state", state)

	return nil
}

// StreamTaskLog returns a Subscription to the log of the Task with the given
// id or ErrTaskNotFound if it doesn't exist.
//
// Next returns every line since the Task started and blocks waiting for new
// lines until the Task finishes.
func (m *Manager) StreamTaskLog(id string) (*output.Subscription, error) {
	return m.registry.Subscribe(id)
}

// Len returns the number of Tasks held by the Manager.
func (m *Manager) Len() int {
	return m.registry.Len()
}

// Shutdown stops accepting Tasks, kills every running worker and waits for
// their Tasks to be finalized as failed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel(errShutdown)

	m.wg.Wait()
}
