package job_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ssajaia/taskflow/dv"
	"github.com/Ssajaia/taskflow/dverr"
	"github.com/Ssajaia/taskflow/job"
)

func waitStatus(t *testing.T, s *job.Scheduler, id string, want job.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, ok := s.GetJob(id)
		require.True(t, ok)
		if j.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	j, _ := s.GetJob(id)
	t.Fatalf("job %q did not reach %s in time, still %s", id, want, j.Status())
}

func instant(label string) job.Task {
	return func() *dv.DeferredValue { return dv.Resolve(label) }
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	s := job.New(job.WithConcurrency(1), job.WithAutoStart(false))

	var mu sync.Mutex
	var order []string
	record := func(label string) job.Task {
		return func() *dv.DeferredValue {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return dv.Resolve(label)
		}
	}

	idA, _ := s.Add(record("A"), job.Options{Priority: 1})
	idB, _ := s.Add(record("B"), job.Options{Priority: 10})
	idC, _ := s.Add(record("C"), job.Options{Priority: 5})
	idD, _ := s.Add(record("D"), job.Options{Priority: 100})
	s.Start()

	waitStatus(t, s, idA, job.StatusCompleted)
	waitStatus(t, s, idB, job.StatusCompleted)
	waitStatus(t, s, idC, job.StatusCompleted)
	waitStatus(t, s, idD, job.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"D", "B", "C", "A"}, order)
}

func TestRetryWithBackoffSucceedsOnLaterAttempt(t *testing.T) {
	s := job.New(job.WithConcurrency(1))

	var attempts int
	var mu sync.Mutex
	task := func() *dv.DeferredValue {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return dv.Reject(errors.New("not yet"))
		}
		return dv.Resolve("ok")
	}

	id, err := s.Add(task, job.Options{Retries: 2, RetryDelay: 0})
	require.NoError(t, err)

	waitStatus(t, s, id, job.StatusCompleted)
	j, _ := s.GetJob(id)
	assert.Equal(t, 3, j.Attempts())
	assert.Equal(t, "ok", j.Result())

	status := s.GetStatus()
	assert.Equal(t, 1, status.Stats.CompletedJobs)
	assert.Equal(t, 0, status.Stats.FailedJobs)
}

func TestCancelDuringRetryBackoffStaysCanceled(t *testing.T) {
	s := job.New(job.WithConcurrency(1))

	var attempts int
	var mu sync.Mutex
	task := func() *dv.DeferredValue {
		mu.Lock()
		attempts++
		mu.Unlock()
		return dv.Reject(errors.New("always fails"))
	}

	id, err := s.Add(task, job.Options{Retries: 5, RetryDelay: 50 * time.Millisecond})
	require.NoError(t, err)

	waitStatus(t, s, id, job.StatusPending)
	require.True(t, s.CancelJob(id))
	waitStatus(t, s, id, job.StatusCanceled)

	// Give the armed retry timer a chance to fire; it must not resurrect
	// the job out of its terminal Canceled state.
	time.Sleep(100 * time.Millisecond)
	j, _ := s.GetJob(id)
	assert.Equal(t, job.StatusCanceled, j.Status())

	status := s.GetStatus()
	assert.Equal(t, 1, status.Stats.CanceledJobs)
	assert.Equal(t, 0, status.Stats.CompletedJobs)
	assert.Equal(t, 0, status.Stats.FailedJobs)
	assert.Equal(t, 1, status.Stats.TotalJobs)
}

func TestJobTimeoutNeverRetries(t *testing.T) {
	s := job.New(job.WithConcurrency(1))

	var attempts int
	var mu sync.Mutex
	task := func() *dv.DeferredValue {
		mu.Lock()
		attempts++
		mu.Unlock()
		return dv.New(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {})
	}

	id, err := s.Add(task, job.Options{Timeout: 10 * time.Millisecond, Retries: 5})
	require.NoError(t, err)

	waitStatus(t, s, id, job.StatusFailed)
	j, _ := s.GetJob(id)
	var timeoutErr *dverr.JobTimeoutError
	require.True(t, errors.As(j.Err(), &timeoutErr))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestWaitForJob_PendingBeforeRun(t *testing.T) {
	s := job.New(job.WithAutoStart(false))
	id, err := s.Add(instant("v"), job.Options{})
	require.NoError(t, err)

	waiter := s.WaitForJob(id)
	assert.Equal(t, dv.Pending, waiter.State())

	s.Start()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && waiter.State() == dv.Pending {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, dv.Fulfilled, waiter.State())
	assert.Equal(t, "v", waiter.Value())
}

func TestWaitForJob_UnknownIDRejects(t *testing.T) {
	s := job.New()
	waiter := s.WaitForJob("job-does-not-exist")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && waiter.State() == dv.Pending {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, dv.Rejected, waiter.State())
	var schedErr *dverr.SchedulerError
	require.True(t, errors.As(waiter.Reason().(error), &schedErr))
}

func TestCancelJob(t *testing.T) {
	s := job.New(job.WithConcurrency(1))
	task := func() *dv.DeferredValue {
		return dv.New(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {})
	}
	id, err := s.Add(task, job.Options{})
	require.NoError(t, err)

	waitStatus(t, s, id, job.StatusRunning)
	require.True(t, s.CancelJob(id))
	waitStatus(t, s, id, job.StatusCanceled)

	j, _ := s.GetJob(id)
	var cancelErr *dverr.JobCanceledError
	require.True(t, errors.As(j.Err(), &cancelErr))
	assert.False(t, s.CancelJob(id))
}

func TestOnIdle(t *testing.T) {
	s := job.New(job.WithConcurrency(2))
	_, _ = s.Add(instant("a"), job.Options{})
	_, _ = s.Add(instant("b"), job.Options{})

	idle := s.OnIdle()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && idle.State() == dv.Pending {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, dv.Fulfilled, idle.State())

	status := s.GetStatus()
	assert.Equal(t, 2, status.Stats.TotalJobs)
}

func TestMaxQueueSizeRejectsAdmission(t *testing.T) {
	s := job.New(job.WithAutoStart(false), job.WithMaxQueueSize(1))
	_, err := s.Add(instant("a"), job.Options{})
	require.NoError(t, err)
	_, err = s.Add(instant("b"), job.Options{})
	require.Error(t, err)
	var capErr *dverr.SchedulerCapacityError
	require.True(t, errors.As(err, &capErr))
}

func TestChainIsFluent(t *testing.T) {
	s := job.New(job.WithAutoStart(false))
	returned := s.Chain(instant("a"), job.Options{}).Chain(instant("b"), job.Options{})
	assert.Same(t, s, returned)
	assert.Equal(t, 2, s.GetStatus().Pending)
}
