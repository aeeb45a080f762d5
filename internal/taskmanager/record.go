package taskmanager

import (
	"sync"
	"time"

	"github.com/nixpig/jobsearch/internal/taskmanager/output"
)

// Record is the mutable state of a Task. It is owned by a Registry and only
// mutated through Registry.Update, which holds the Record's lock.
type Record struct {
	id        string
	input     Input
	state     TaskState
	log       *output.Log
	errMsg    string
	exitCode  int
	createdAt time.Time
	endedAt   time.Time

	// removed is set when the Registry deletes the Record, so that an
	// in-flight update that already resolved it is rejected.
	removed bool

	mu sync.Mutex
}

// TaskSnapshot is a point-in-time copy of a Record.
type TaskSnapshot struct {
	ID        string
	State     TaskState
	Input     Input
	Log       []output.Line
	Error     string
	ExitCode  int
	CreatedAt time.Time
	EndedAt   time.Time
}

func newRecord(id string, input Input) *Record {
	return &Record{
		id:        id,
		input:     input.clone(),
		state:     TaskStateRunning,
		log:       output.NewLog(),
		exitCode:  -1,
		createdAt: time.Now(),
	}
}

// ID returns the ID of the Task.
func (r *Record) ID() string {
	return r.id
}

// State returns the current state of the Task.
func (r *Record) State() TaskState {
	return r.state
}

// AppendLog appends a line of worker output. The log is frozen when the Task
// is finalized, after which output.ErrLogClosed is returned.
func (r *Record) AppendLog(line output.Line) error {
	return r.log.Append(line)
}

// Finalize moves the Task to a terminal state and freezes its log. Trying to
// finalize a Task that is not running returns an InvalidStateError.
func (r *Record) Finalize(state TaskState, exitCode int, errMsg string) error {
	if !r.state.canTransition(state) {
		return NewInvalidStateError(r.state, state)
	}

	r.state = state
	r.exitCode = exitCode
	r.endedAt = time.Now()

	if state == TaskStateFailed {
		r.errMsg = errMsg
	}

	r.log.Close()

	return nil
}

func (r *Record) snapshot() *TaskSnapshot {
	return &TaskSnapshot{
		ID:        r.id,
		State:     r.state,
		Input:     r.input.clone(),
		Log:       r.log.Lines(),
		Error:     r.errMsg,
		ExitCode:  r.exitCode,
		CreatedAt: r.createdAt,
		EndedAt:   r.endedAt,
	}
}
