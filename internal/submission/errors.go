// Package submission holds the operations the API exposes on jobs and
// analysis jobs: creation through the template engine, re-queueing, and the
// lineage actions (modify, cancel, release) that clone an existing job.
package submission

import (
	"errors"
	"fmt"
)

// ErrRequeueNotAllowed is returned when re-queueing a job that was already
// submitted (or is being submitted) without force.
var ErrRequeueNotAllowed = errors.New("requeue not allowed on submitted or running jobs")

// ValidationError reports bad input caught before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
