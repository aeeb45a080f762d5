package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nixpig/jobsearch/internal/broadcast"
	"github.com/nixpig/jobsearch/internal/taskmanager/cgroups"
	"github.com/nixpig/jobsearch/internal/taskmanager/output"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout    = 5 * time.Minute
	DefaultDrainGrace = 2 * time.Second
	DefaultArtifact   = "jobs.csv"

	// stderrTailLines is how much of the worker's stderr is kept for the
	// failure message.
	stderrTailLines = 20
)

// WorkerConfig describes how the worker is invoked.
type WorkerConfig struct {
	// Program is the worker executable. Args are passed before the input
	// arguments (--cv or --companies).
	Program string
	Args    []string

	// Env is appended to the server's environment.
	Env []string

	// WorkDir is the parent of the per-task working directories. The worker
	// writes Artifact relative to its task directory.
	WorkDir  string
	Artifact string

	// Timeout is the ceiling on a single worker run.
	Timeout time.Duration

	// DrainGrace is how long output may stay open after the worker exits,
	// e.g. when held by a background child.
	DrainGrace time.Duration

	// CgroupRoot enables per-task cgroups with Limits when set.
	CgroupRoot string
	Limits     *cgroups.ResourceLimits
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "jobsearch")
	}

	if c.Artifact == "" {
		c.Artifact = DefaultArtifact
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}

	return c
}

// EventPublisher receives live task events.
type EventPublisher interface {
	Publish(ctx context.Context, e broadcast.Event) error
}

// Supervisor runs the worker for a Task and records its output and outcome
// in a Registry. It refers to Tasks only by ID.
type Supervisor struct {
	registry  *Registry
	cfg       WorkerConfig
	publisher EventPublisher
	logger    *slog.Logger
}

// NewSupervisor creates a Supervisor. Zero fields of cfg take their defaults.
func NewSupervisor(
	registry *Registry,
	cfg WorkerConfig,
	publisher EventPublisher,
	logger *slog.Logger,
) *Supervisor {
	if publisher == nil {
		publisher = broadcast.Nop{}
	}

	return &Supervisor{
		registry:  registry,
		cfg:       cfg.withDefaults(),
		publisher: publisher,
		logger:    logger,
	}
}

// TaskDir returns the worker's working directory for the Task with the given
// id.
func (s *Supervisor) TaskDir(id string) string {
	return filepath.Join(s.cfg.WorkDir, id)
}

// ArtifactPath returns where the worker for the Task with the given id writes
// its results.
func (s *Supervisor) ArtifactPath(id string) string {
	if filepath.IsAbs(s.cfg.Artifact) {
		return s.cfg.Artifact
	}

	return filepath.Join(s.TaskDir(id), s.cfg.Artifact)
}

type outcome struct {
	exitCode int
	err      error
}

func failed(err error) outcome {
	return outcome{exitCode: -1, err: err}
}

// Run launches the worker for the Task with the given id and blocks until it
// exits, exceeds the timeout or ctx is cancelled. It then finalizes the Task
// exactly once, whatever happened in between.
func (s *Supervisor) Run(ctx context.Context, id string, input Input) {
	result := failed(fmt.Errorf("%w: supervisor exited unexpectedly", ErrInternal))

	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Errorf("%w: supervisor panic: %v", ErrInternal, r))
		}

		s.finalize(ctx, id, result)
	}()

	result = s.supervise(ctx, id, input)
}

func (s *Supervisor) supervise(ctx context.Context, id string, input Input) outcome {
	dir := s.TaskDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return failed(fmt.Errorf("%w: create task dir: %v", ErrInternal, err))
	}

	p, err := newPipes()
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrInternal, err))
	}
	defer p.closeAll()

	var cg *cgroups.Cgroup
	if s.cfg.CgroupRoot != "" {
		cg, err = cgroups.CreateCgroup(s.cfg.CgroupRoot, id, s.cfg.Limits)
		if err != nil {
			return failed(fmt.Errorf("%w: %v", ErrInternal, err))
		}

		defer func() {
			if err := cg.Destroy(); err != nil {
				s.logger.WarnContext(ctx, "destroy cgroup", "err", err)
			}
		}()
	}

	args := append(slices.Clone(s.cfg.Args), input.Args()...)

	cmd := exec.Command(s.cfg.Program, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	configureProcess(cmd, cg)

	if err := cmd.Start(); err != nil {
		return failed(fmt.Errorf("%w: start worker: %v", ErrInternal, err))
	}

	// The child holds its own copies. Closing ours lets the drains see EOF
	// once the child (and anything it spawned) is gone.
	p.closeWriters()

	if cg != nil && cg.FD() == nil {
		if err := cg.Join(cmd.Process.Pid); err != nil {
			s.logger.WarnContext(ctx, "join cgroup", "err", err)
		}
	}

	s.logger.InfoContext(
		ctx,
		"worker started",
		"pid", cmd.Process.Pid,
		"mode", input.Mode(),
	)

	stderrTail := newTail(stderrTailLines)

	var drains errgroup.Group
	drains.Go(func() error {
		return output.Scan(p.stdoutR, output.Stdout, s.appender(ctx, id, nil))
	})
	drains.Go(func() error {
		return output.Scan(p.stderrR, output.Stderr, s.appender(ctx, id, stderrTail))
	})

	drained := make(chan error, 1)
	go func() { drained <- drains.Wait() }()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	runCtx, cancel := context.WithTimeoutCause(ctx, s.cfg.Timeout, ErrTimeout)
	defer cancel()

	select {
	case waitErr := <-exited:
		s.awaitDrains(ctx, cmd, cg, p, drained)

		return exitOutcome(waitErr, stderrTail.lines())

	case <-runCtx.Done():
		cause := context.Cause(runCtx)

		s.kill(ctx, cmd, cg)
		p.closeReaders()

		<-exited
		<-drained

		if errors.Is(cause, ErrTimeout) {
			s.logger.WarnContext(ctx, "worker timed out", "timeout", s.cfg.Timeout)
			return failed(fmt.Errorf("%w after %s", ErrTimeout, s.cfg.Timeout))
		}

		return failed(fmt.Errorf("%w: worker cancelled: %v", ErrInternal, cause))
	}
}

// awaitDrains waits up to DrainGrace for both streams to reach EOF after the
// worker has exited. Past that, whatever still holds them open is killed and
// the read ends are closed.
func (s *Supervisor) awaitDrains(
	ctx context.Context,
	cmd *exec.Cmd,
	cg *cgroups.Cgroup,
	p *pipes,
	drained <-chan error,
) {
	timer := time.NewTimer(s.cfg.DrainGrace)
	defer timer.Stop()

	select {
	case err := <-drained:
		if err != nil {
			s.logger.WarnContext(ctx, "drain worker output", "err", err)
		}

	case <-timer.C:
		s.logger.WarnContext(
			ctx,
			"worker output still open after exit",
			"grace", s.cfg.DrainGrace,
		)

		s.kill(ctx, cmd, cg)
		p.closeReaders()

		<-drained
	}
}

func (s *Supervisor) kill(ctx context.Context, cmd *exec.Cmd, cg *cgroups.Cgroup) {
	if err := killProcessGroup(cmd); err != nil {
		s.logger.WarnContext(ctx, "kill worker process group", "err", err)
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.WarnContext(ctx, "kill worker", "err", err)
	}

	if cg != nil {
		if err := cg.Kill(); err != nil {
			s.logger.WarnContext(ctx, "kill worker cgroup", "err", err)
		}
	}
}

// appender returns the per-line callback for a drain. Lines for a Task that
// has been removed are discarded, but draining continues so the worker never
// blocks on a full pipe.
func (s *Supervisor) appender(
	ctx context.Context,
	id string,
	tail *tail,
) func(output.Line) {
	return func(line output.Line) {
		if tail != nil {
			tail.add(line.Text)
		}

		if err := s.registry.AppendLog(id, line); err != nil {
			return
		}

		s.publish(ctx, broadcast.Event{
			TaskID: id,
			Kind:   broadcast.KindLog,
			Stream: string(line.Stream),
			Text:   line.Text,
			TimeMs: line.Time.UnixMilli(),
		})
	}
}

func (s *Supervisor) finalize(ctx context.Context, id string, result outcome) {
	state, errMsg := TaskStateCompleted, ""
	if result.err != nil {
		state, errMsg = TaskStateFailed, result.err.Error()
	}

	err := s.registry.Finalize(id, state, result.exitCode, errMsg)

	switch {
	case errors.Is(err, ErrTaskNotFound):
		s.logger.InfoContext(
			ctx,
			"task removed while running, discarding outcome",
			"state", state,
		)

		s.removeTaskDir(ctx, id)

		return

	case err != nil:
		s.logger.ErrorContext(ctx, "finalize task", "state", state, "err", err)
		return
	}

	if result.err != nil {
		s.logger.WarnContext(
			ctx,
			"task failed",
			"exit_code", result.exitCode,
			"err", result.err,
		)
	} else {
		s.logger.InfoContext(ctx, "task completed")
	}

	s.publish(ctx, broadcast.Event{
		TaskID: id,
		Kind:   broadcast.KindState,
		State:  state.String(),
		Error:  errMsg,
		TimeMs: time.Now().UnixMilli(),
	})
}

func (s *Supervisor) publish(ctx context.Context, e broadcast.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.DebugContext(ctx, "publish task event", "kind", e.Kind, "err", err)
	}
}

func (s *Supervisor) removeTaskDir(ctx context.Context, id string) {
	if err := os.RemoveAll(s.TaskDir(id)); err != nil {
		s.logger.WarnContext(ctx, "remove task dir", "err", err)
	}
}

func exitOutcome(err error, stderr []string) outcome {
	if err == nil {
		return outcome{exitCode: 0}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return failed(fmt.Errorf("%w: wait for worker: %v", ErrInternal, err))
	}

	code := exitErr.ExitCode()

	msg := "worker exited with code " + strconv.Itoa(code)
	if code == -1 {
		msg = "worker terminated: " + exitErr.String()
	}

	if len(stderr) > 0 {
		msg += ": " + strings.Join(stderr, "\n")
	}

	return outcome{exitCode: code, err: fmt.Errorf("%w: %s", ErrWorkerFailure, msg)}
}

// pipes are the worker's stdout and stderr. Each end is closed at most once.
type pipes struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File

	readersOnce sync.Once
	writersOnce sync.Once
}

func newPipes() (*pipes, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()

		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	return &pipes{
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
	}, nil
}

// closeReaders cancels any in-flight reads of worker output.
func (p *pipes) closeReaders() {
	p.readersOnce.Do(func() {
		p.stdoutR.Close()
		p.stderrR.Close()
	})
}

func (p *pipes) closeWriters() {
	p.writersOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
	})
}

func (p *pipes) closeAll() {
	p.closeWriters()
	p.closeReaders()
}

// tail keeps the last n lines added. It is owned by one drain and read only
// after that drain has finished.
type tail struct {
	n   int
	buf []string
}

func newTail(n int) *tail {
	return &tail{n: n, buf: make([]string, 0, n)}
}

func (t *tail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	if len(t.buf) == t.n {
		t.buf = slices.Delete(t.buf, 0, 1)
	}

	t.buf = append(t.buf, line)
}

func (t *tail) lines() []string {
	return slices.Clone(t.buf)
}
