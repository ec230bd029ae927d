package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidPath = errors.New("invalid path")

	// ErrRunFinalized is returned when a run that already left the running
	// state is finalized again.
	ErrRunFinalized = errors.New("run already finalized")
)

// NotFoundError reports a missing host, job or run.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidScheduleError reports a cron expression that cannot be turned into
// a trigger.
type InvalidScheduleError struct {
	JobID  int64
	Expr   string
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule %q for job %d: %s", e.Expr, e.JobID, e.Reason)
}

// InvalidPathError reports a restore destination that failed validation.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return e.Reason
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}
