package taskmanager

import "fmt"

type TaskState int

const (
	// TaskStateUnknown is the zero value for functions that return a (possibly
	// absent) TaskState.
	TaskStateUnknown TaskState = iota

	// TaskStateRunning indicates the worker has been launched, or is about to
	// be, and the Task's log is still accepting output.
	TaskStateRunning

	// TaskStateCompleted indicates the worker exited with status zero.
	TaskStateCompleted

	// TaskStateFailed indicates the worker exited with a non-zero status, hit
	// the timeout ceiling, or could not be supervised.
	TaskStateFailed
)

// NOTE: This slice needs to be kept in sync with the TaskState values. The
// strings are part of the public API.
var taskStates = []string{
	"unknown",
	"running",
	"completed",
	"failed",
}

// String returns the lower-case name of the TaskState.
func (s TaskState) String() string {
	if int(s) < 0 || int(s) >= len(taskStates) {
		return taskStates[0]
	}

	return taskStates[s]
}

// IsTerminal reports whether no further transitions are possible from s.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// canTransition reports whether a Task may move from s to next. The only
// legal transitions are running to completed and running to failed.
func (s TaskState) canTransition(next TaskState) bool {
	return s == TaskStateRunning && next.IsTerminal()
}

// ParseTaskState returns the TaskState named by s.
func ParseTaskState(s string) (TaskState, error) {
	for i, name := range taskStates {
		if i > 0 && name == s {
			return TaskState(i), nil
		}
	}

	return TaskStateUnknown, fmt.Errorf("unknown task state %q", s)
}
