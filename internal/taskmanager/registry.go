package taskmanager

import (
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/nixpig/jobsearch/internal/taskmanager/output"
)

// Registry holds the records of all known Tasks. It is safe for concurrent
// use; each Record additionally has its own lock so that updates to
// different Tasks don't contend.
type Registry struct {
	// NOTE: records are only removed by an explicit Delete. There is no
	// eviction, so unclaimed Tasks are held for the lifetime of the process.
	records map[string]*Record

	mu sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Create inserts a running Record for input and returns its ID. IDs are
// random (UUIDv4) and never reused while held in the Registry.
func (r *Registry) Create(input Input) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for r.records[id] != nil {
		id = uuid.NewString()
	}

	r.records[id] = newRecord(id, input)

	return id
}

// Get returns a snapshot of the Task with the given id or ErrTaskNotFound if
// it doesn't exist.
func (r *Registry) Get(id string) (*TaskSnapshot, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.removed {
		return nil, ErrTaskNotFound
	}

	return rec.snapshot(), nil
}

// Update calls fn with the Record of the Task with the given id while holding
// the Record's lock. It returns ErrTaskNotFound if the Task doesn't exist or
// is deleted before fn runs, and otherwise the result of fn.
func (r *Registry) Update(id string, fn func(*Record) error) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.removed {
		return ErrTaskNotFound
	}

	return fn(rec)
}

// AppendLog appends line to the log of the Task with the given id.
func (r *Registry) AppendLog(id string, line output.Line) error {
	return r.Update(id, func(rec *Record) error {
		return rec.AppendLog(line)
	})
}

// Finalize moves the Task with the given id to a terminal state.
func (r *Registry) Finalize(
	id string,
	state TaskState,
	exitCode int,
	errMsg string,
) error {
	return r.Update(id, func(rec *Record) error {
		return rec.Finalize(state, exitCode, errMsg)
	})
}

// Delete removes the Task with the given id and returns the state it was in
// when removed, or ErrTaskNotFound if it doesn't exist. Subscriptions to its
// log end once they have read what was already written.
func (r *Registry) Delete(id string) (TaskState, error) {
	r.mu.Lock()
	rec, exists := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()

	if !exists {
		return TaskStateUnknown, ErrTaskNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.removed = true
	rec.log.Close()

	return rec.state, nil
}

// Subscribe returns a Subscription to the log of the Task with the given id.
// The Subscription ends once the Task reaches a terminal state and every line
// has been read.
func (r *Registry) Subscribe(id string) (*output.Subscription, error) {
	var sub *output.Subscription

	if err := r.Update(id, func(rec *Record) error {
		sub = rec.log.Subscribe()
		return nil
	}); err != nil {
		return nil, err
	}

	return sub, nil
}

// Len returns the number of Tasks in the Registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// IDs returns the IDs of all Tasks in the Registry, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.records))
}

func (r *Registry) lookup(id string) (*Record, error) {
	r.mu.RLock()
	rec, exists := r.records[id]
	r.mu.RUnlock()

	if !exists {
		return nil, ErrTaskNotFound
	}

	return rec, nil
}
