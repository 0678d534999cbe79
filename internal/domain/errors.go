package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the workflow fault taxonomy. Typed errors below
// unwrap to these so callers can branch with errors.Is.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport indicates a failed exchange with the document
	// service: network failure, unreachable host, or a non-2xx status.
	// Transport faults are never retried automatically.
	ErrTransport = errors.New("transport fault")

	// ErrPollTimeout indicates a background job was still not terminal
	// when its observation window expired. Distinct from ErrTransport
	// so the user sees "took too long" rather than "failed".
	ErrPollTimeout = errors.New("poll timeout")

	// ErrInvalidTransition indicates an event that is not legal in the
	// current workflow stage. The event is discarded and the state is
	// left untouched.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrJobFailed indicates the document service reported a job as
	// failed. This is terminal for the job, like success.
	ErrJobFailed = errors.New("job failed")

	// ErrSessionClosed indicates the session was torn down and accepts
	// no further events.
	ErrSessionClosed = errors.New("session closed")

	// ErrConfirmationRequired indicates a destructive operation was
	// requested without its explicit confirmation flag.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrRunInProgress indicates a clustering run is still being
	// observed and blocks the requested operation.
	ErrRunInProgress = errors.New("run in progress")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// TransportError provides details about a failed exchange with the
// document service. StatusCode is zero for network-level failures.
type TransportError struct {
	Operation  string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: document service returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TransportError) Unwrap() error {
	return ErrTransport
}

// PollTimeoutError provides details about an expired job observation
// window.
type PollTimeoutError struct {
	JobID   string
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s took too long: gave up after %s", e.JobID, e.Elapsed.Round(time.Millisecond))
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *PollTimeoutError) Unwrap() error {
	return ErrPollTimeout
}

// InvalidTransitionError names the rejected (stage, event) pair.
type InvalidTransitionError struct {
	Stage WorkflowStage
	Event EventKind
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s is not legal in stage %s", e.Event, e.Stage)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StaleResponseError marks an asynchronous response that arrived after
// the stage that issued it was superseded. It unwraps to
// ErrInvalidTransition because the workflow treats both the same way:
// discard, never mutate state.
type StaleResponseError struct {
	Seq     uint64
	Current uint64
	Event   EventKind
}

// Error implements the error interface.
func (e *StaleResponseError) Error() string {
	return fmt.Sprintf("discarding %s issued at stage seq %d: workflow is at seq %d", e.Event, e.Seq, e.Current)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *StaleResponseError) Unwrap() error {
	return ErrInvalidTransition
}

// JobFailedError carries the server-provided reason for a failed job.
type JobFailedError struct {
	JobID  string
	Reason string
}

// Error implements the error interface.
func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *JobFailedError) Unwrap() error {
	return ErrJobFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewTransportError creates a new TransportError.
func NewTransportError(operation string, statusCode int, cause error) *TransportError {
	return &TransportError{
		Operation:  operation,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewJobFailedError creates a new JobFailedError.
func NewJobFailedError(jobID, reason string) *JobFailedError {
	return &JobFailedError{
		JobID:  jobID,
		Reason: reason,
	}
}

// FaultMessage renders an error as the user-facing message stored on the
// error stage. Timeouts read as "took too long" so they are
// distinguishable from hard failures.
func FaultMessage(err error) string {
	if err == nil {
		return ""
	}

	var timeoutErr *PollTimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Sprintf("The operation took too long and was abandoned after %s.", timeoutErr.Elapsed.Round(time.Second))
	}
	if errors.Is(err, ErrPollTimeout) {
		return "The operation took too long and was abandoned."
	}

	var jobErr *JobFailedError
	if errors.As(err, &jobErr) && jobErr.Reason != "" {
		return jobErr.Reason
	}
	if errors.Is(err, ErrJobFailed) {
		return "The operation failed on the document service."
	}

	if errors.Is(err, ErrTransport) {
		return "The document service could not be reached. Please try again."
	}

	return "The operation failed."
}
