package jobs

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Submit when the scheduler has not been
// started yet or has already been stopped.
var ErrNotRunning = errors.New("scheduler not running")

// ValidationError rejects a submission before a job record is created.
// It is the only error a caller sees synchronously from Submit besides
// ErrNotRunning.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid submission: " + e.Reason
	}
	return fmt.Sprintf("invalid submission: %s: %s", e.Field, e.Reason)
}

// ProcessingError records a processor failure. The job it belongs to is
// marked failed with the underlying message; Handle.Wait returns this error.
type ProcessingError struct {
	JobID string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %s: processing failed: %v", e.JobID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
