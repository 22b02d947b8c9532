package migration

import (
	"errors"
	"fmt"
	"time"

	"github.com/loykin/dbmigrate/internal/task"
)

var (
	// ErrInvalidTask is returned by AddTask for a task without a usable identity.
	ErrInvalidTask = errors.New("invalid task")
	// ErrDuplicateTask is returned by AddTask when the identity is already registered.
	ErrDuplicateTask = errors.New("duplicate task identity")
)

// TaskError reports a task whose execution failed. The failure is recorded in
// the ledger and the task is listed in Result.Failed.
type TaskError struct {
	Task     *task.Task
	Duration time.Duration
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task.ID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// ValidationError reports a task that refused to run. Nothing about it is
// written to the ledger.
type ValidationError struct {
	Task *task.Task
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of task %s failed: %v", e.Task.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
