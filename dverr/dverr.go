// Package dverr defines the named failure kinds shared by the dv and job
// packages: cancellation, timeout, aggregate, and the scheduler-specific
// capacity/timeout/cancel errors. Every kind implements error and is
// matchable via errors.As. CancelError, TimeoutError, TypeError and
// SchedulerError also unwrap to their Cause, and AggregateError unwraps
// to every aggregated reason.
package dverr

import (
	"errors"
	"fmt"
)

// CancelError is raised when a DeferredValue is cancelled, either directly
// via Cancel or indirectly through scope fanout or scheduler job
// cancellation. A timeout rejects with TimeoutError instead.
type CancelError struct {
	Reason any
	Cause  error
}

func (e *CancelError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("canceled: %v", e.Reason)
	}
	return "canceled"
}

func (e *CancelError) Unwrap() error { return e.Cause }

// Is reports true for any *CancelError, regardless of reason.
func (e *CancelError) Is(target error) bool {
	var t *CancelError
	return errors.As(target, &t)
}

// TimeoutError is raised when a timeout decorator expires before the
// underlying DeferredValue settles.
type TimeoutError struct {
	Message string
	Cause   error
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Is(target error) bool {
	var t *TimeoutError
	return errors.As(target, &t)
}

// TypeError mirrors the ECMAScript TypeError used for programmer mistakes
// such as self-resolution.
type TypeError struct {
	Message string
	Cause   error
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

func (e *TypeError) Unwrap() error { return e.Cause }

// AggregateError wraps every rejection reason observed by Any when all
// inputs reject, preserving input order.
type AggregateError struct {
	Message string
	Errors  []error
}

func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("all %d promises were rejected", len(e.Errors))
}

// Unwrap supports errors.Is/As against any of the aggregated reasons
// (Go 1.20+ multi-error unwrapping).
func (e *AggregateError) Unwrap() []error { return e.Errors }

func (e *AggregateError) Is(target error) bool {
	var t *AggregateError
	return errors.As(target, &t)
}

// ErrEmptyAny supplies the message of the AggregateError that Any
// rejects with when called with no inputs at all; that AggregateError
// holds no aggregated errors.
var ErrEmptyAny = errors.New("dv: any() called with no deferred values")

// SchedulerError is a generic scheduler-boundary error, e.g. an unknown
// job id passed to WaitForJob.
type SchedulerError struct {
	Message string
	Cause   error
}

func (e *SchedulerError) Error() string {
	if e.Message == "" {
		return "scheduler error"
	}
	return e.Message
}

func (e *SchedulerError) Unwrap() error { return e.Cause }

func (e *SchedulerError) Is(target error) bool {
	var t *SchedulerError
	return errors.As(target, &t)
}

// SchedulerCapacityError is raised by Add when the scheduler has no room
// for another pending job, whether due to a full queue or an exhausted
// admission rate.
type SchedulerCapacityError struct {
	Message string
}

func (e *SchedulerCapacityError) Error() string {
	if e.Message == "" {
		return "scheduler: at capacity"
	}
	return e.Message
}

// JobTimeoutError carries the id and configured timeout of a job whose
// task did not settle in time. Job-timeout errors never retry.
type JobTimeoutError struct {
	JobID   string
	Timeout int
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %q timed out after %dms", e.JobID, e.Timeout)
}

// JobCanceledError carries the id of a job that was cancelled, either
// individually or via CancelAll/Stop.
type JobCanceledError struct {
	JobID string
}

func (e *JobCanceledError) Error() string {
	return fmt.Sprintf("job %q canceled", e.JobID)
}
