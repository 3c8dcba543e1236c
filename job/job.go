// Package job implements the bounded-concurrency priority scheduler
// layered over a dv.DeferredValue: each Job wraps a nullary task that
// produces exactly one DeferredValue per attempt, with per-job timeout,
// retry-with-backoff, cooperative cancellation, progress propagation,
// and aggregated statistics.
package job

import (
	"time"

	"github.com/Ssajaia/taskflow/dv"
)

// Status is the lifecycle state of a Job.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Task produces the DeferredValue representing one attempt's work. It
// is invoked once per attempt by the scheduler's pump.
type Task func() *dv.DeferredValue

// Options configures admission of a single Job.
type Options struct {
	// Timeout bounds a single attempt; zero means no timeout. A
	// timed-out attempt never retries, regardless of Retries.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first
	// failure, zero meaning no retry.
	Retries int
	// RetryDelay is the pause between a failed attempt and its retry.
	RetryDelay time.Duration
	// Priority orders pending admission; higher runs first.
	Priority int
}

// Job is one unit of scheduled work: identity, config, task, and the
// mutable state the scheduler's pump advances.
type Job struct {
	ID   string
	task Task
	opts Options

	status    Status
	attempts  int
	progress  int
	startTime time.Time
	endTime   time.Time
	result    dv.Result
	err       error

	governing *dv.DeferredValue
	cancel    dv.CancelFunc

	retryTimer *time.Timer

	waitSignal  *dv.DeferredValue
	waitResolve dv.ResolveFunc
	waitReject  dv.RejectFunc
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status { return j.status }

// Attempts returns how many times the task has been invoked so far.
func (j *Job) Attempts() int { return j.attempts }

// Progress returns the most recently observed progress value, 0-100.
func (j *Job) Progress() int { return j.progress }

// StartTime returns when the most recent attempt began running.
func (j *Job) StartTime() time.Time { return j.startTime }

// EndTime returns when the job reached a terminal state.
func (j *Job) EndTime() time.Time { return j.endTime }

// Result returns the fulfillment value once Completed.
func (j *Job) Result() dv.Result { return j.result }

// Err returns the terminal failure once Failed or Canceled.
func (j *Job) Err() error { return j.err }
