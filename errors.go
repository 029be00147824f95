package jobq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no job or process has the given id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when an id is already used by a job or a process.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrAlreadyQueued is returned when a job already has a priority.
	ErrAlreadyQueued = errors.New("job already queued")

	// ErrInvalidPriority is returned for a priority that cannot be ordered.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrJobNotFinished is returned when a job should be done, errored or stopped.
	ErrJobNotFinished = errors.New("job not finished")

	// ErrJobStarted is returned when a job cannot be changed after it started.
	ErrJobStarted = errors.New("job already started")

	// ErrEmptyJob is returned when a job without a task is started.
	ErrEmptyJob = errors.New("job has no task")

	// ErrInvalidMaster is returned for a master job that cannot be used.
	ErrInvalidMaster = errors.New("invalid master job")

	// ErrTaskStarted is returned when a task is started twice.
	ErrTaskStarted = errors.New("task already started")

	// ErrTaskFinished is returned when a finished task is started.
	ErrTaskFinished = errors.New("task already finished")
)

// TaskError is a fault of a task's work function.
type TaskError struct {
	TaskID string
	Kind   string
	Err    error

	// Stack is the goroutine stack, when the work function panicked.
	Stack []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s): %v", e.TaskID, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Detail returns the error message followed by the stack, if any.
func (e *TaskError) Detail() string {
	if len(e.Stack) == 0 {
		return e.Error()
	}
	return e.Error() + "\n" + string(e.Stack)
}

// ConsistencyError is returned when the queue's bookkeeping of a job group
// or a process doesn't add up. It means the indexes are corrupted.
type ConsistencyError struct {
	// ID is the process id, or the priority of the group formatted as a string.
	ID     string
	Total  int
	Counts map[JobStatus]int
}

func (e *ConsistencyError) Error() string {
	sum := 0
	for _, n := range e.Counts {
		sum += n
	}
	return fmt.Sprintf("inconsistent job states of %s: %d jobs, %d counted %v", e.ID, e.Total, sum, e.Counts)
}
