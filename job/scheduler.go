package job

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ssajaia/taskflow/dv"
	"github.com/Ssajaia/taskflow/dverr"
	"github.com/Ssajaia/taskflow/dvconfig"
	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
	"golang.org/x/exp/slices"
)

// Stats aggregates counters across a Scheduler's lifetime.
type Stats struct {
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	CanceledJobs  int
	TotalTime     time.Duration
	AvgTime       time.Duration
}

// SchedulerStatus summarizes a Scheduler's current standing, returned by
// GetStatus.
type SchedulerStatus struct {
	IsRunning bool
	Pending   int
	Running   int
	Completed int
	Stats     Stats
}

// Scheduler is a bounded-concurrency, priority-ordered queue of Jobs.
// Its mutable state is owned by the single goroutine driving the pump
// (the caller's goroutine for Add/CancelJob/etc, serialized by mu), so
// no part of the scheduler assumes parallel DV mutation — matching the
// spec's "shared resource policy" for the cooperative execution model.
type Scheduler struct {
	id uuid.UUID

	mu           sync.Mutex
	concurrency  int
	maxQueueSize int
	isRunning    bool

	pending       []*Job
	running       map[string]*Job
	awaitingRetry map[string]*Job
	jobs          map[string]*Job
	completed     []*Job

	stats Stats

	nextID atomic.Uint64

	idleMu      sync.Mutex
	idleSignal  *dv.DeferredValue
	idleResolve dv.ResolveFunc

	dvConfig  dvconfig.Config
	admission *catrate.Limiter
}

// New constructs a Scheduler. By default concurrency=1, the pending
// queue is unbounded, and the scheduler starts pumping immediately.
func New(opts ...SchedulerOption) *Scheduler {
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Scheduler{
		id:            uuid.New(),
		concurrency:   cfg.concurrency,
		maxQueueSize:  cfg.maxQueueSize,
		isRunning:     cfg.autoStart,
		running:       make(map[string]*Job),
		awaitingRetry: make(map[string]*Job),
		jobs:          make(map[string]*Job),
		dvConfig:      cfg.dvConfig,
		admission:     cfg.admission,
	}
}

// ID returns the scheduler instance's unique identifier, for log
// correlation across schedulers sharing a process.
func (s *Scheduler) ID() string { return s.id.String() }

func (s *Scheduler) logEvent(level dvconfig.LogLevel, category, msg string) {
	if s.dvConfig.Logger == nil {
		return
	}
	s.dvConfig.Logger.Log(dvconfig.LogEntry{
		Level:    level,
		Category: category,
		Message:  fmt.Sprintf("[scheduler %s] %s", s.id, msg),
	})
}

// Add admits a new Job, returning its id, or a *dverr.SchedulerCapacityError
// if the pending queue (or the optional admission-rate limiter) has no
// room.
func (s *Scheduler) Add(task Task, opts Options) (string, error) {
	s.mu.Lock()
	if s.maxQueueSize > 0 && len(s.pending) >= s.maxQueueSize {
		s.mu.Unlock()
		return "", &dverr.SchedulerCapacityError{Message: "scheduler: pending queue is full"}
	}
	if s.admission != nil {
		if _, ok := s.admission.Allow("admit"); !ok {
			s.mu.Unlock()
			return "", &dverr.SchedulerCapacityError{Message: "scheduler: admission rate exceeded"}
		}
	}

	id := fmt.Sprintf("job-%d", s.nextID.Add(1))
	j := &Job{ID: id, task: task, opts: opts, status: StatusPending}
	s.jobs[id] = j
	s.pending = append(s.pending, j)
	s.sortPendingLocked()
	s.stats.TotalJobs++
	running := s.isRunning
	s.mu.Unlock()

	if running {
		s.pump()
	}
	return id, nil
}

// Chain is a fluent wrapper over Add: it enqueues task and returns the
// Scheduler itself. Chained jobs are not ordered relative to each other
// beyond normal priority/concurrency rules — Chain is purely an
// enqueue convenience, not a sequencing guarantee.
func (s *Scheduler) Chain(task Task, opts Options) *Scheduler {
	_, _ = s.Add(task, opts)
	return s
}

func (s *Scheduler) sortPendingLocked() {
	slices.SortStableFunc(s.pending, func(a, b *Job) int {
		return b.opts.Priority - a.opts.Priority
	})
}

// Start flips the scheduler into the running state and pumps the queue.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.isRunning = true
	s.mu.Unlock()
	s.pump()
}

// Stop flips the scheduler out of the running state and cancels every
// pending and running job, the same as CancelAll. Further Adds still
// enqueue but will not run until Start is called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	s.CancelAll()
}

// pump is the scheduler's invariant guard: while running < concurrency
// and pending is non-empty, it removes the head and launches it.
// Completion routing re-pumps at its tail, and when a task's
// DeferredValue is already settled that routing runs synchronously
// inside launch, so that pump runs nested inside the outer one. Each
// iteration re-reads the queue state under mu, so the nested and outer
// pumps never launch the same job.
func (s *Scheduler) pump() {
	for {
		s.mu.Lock()
		if !s.isRunning || len(s.running) >= s.concurrency || len(s.pending) == 0 {
			idle := s.isRunning && len(s.running) == 0 && len(s.pending) == 0 && len(s.awaitingRetry) == 0
			s.mu.Unlock()
			if idle {
				s.resolveIdle()
			}
			return
		}
		j := s.pending[0]
		s.pending = s.pending[1:]
		s.running[j.ID] = j
		s.mu.Unlock()

		s.launch(j)
	}
}

// launch runs a single attempt of j's task, wiring timeout, progress
// forwarding, and completion/failure routing.
func (s *Scheduler) launch(j *Job) {
	s.mu.Lock()
	j.status = StatusRunning
	j.startTime = time.Now()
	j.attempts++
	s.mu.Unlock()

	inner := j.task()
	if inner == nil {
		s.failTerminal(j, &dverr.SchedulerError{Message: fmt.Sprintf("job %q task did not return a deferred value", j.ID)}, false)
		return
	}

	governing, cancel := dv.Cancellable(func(resolve dv.ResolveFunc, reject dv.RejectFunc, progress dv.ProgressFunc) {
		inner.Progress(func(v dv.Result) {
			if pct, ok := v.(int); ok {
				s.mu.Lock()
				j.progress = pct
				s.mu.Unlock()
			}
			progress(v)
		})
		inner.OnSettle(func(state dv.State, payload dv.Result) {
			if state == dv.Fulfilled {
				resolve(payload)
			} else {
				reject(payload)
			}
		})
	},
		dvconfig.WithDispatcher(s.dvConfig.Dispatcher),
		dvconfig.WithFreezeValues(s.dvConfig.FreezeValues),
		dvconfig.WithStrict(s.dvConfig.Strict),
		dvconfig.WithLogger(s.dvConfig.Logger),
	)

	s.mu.Lock()
	j.governing = governing
	j.cancel = cancel
	s.mu.Unlock()

	outcome := governing
	if j.opts.Timeout > 0 {
		outcome = governing.Timeout(j.opts.Timeout, &dverr.JobTimeoutError{JobID: j.ID, Timeout: int(j.opts.Timeout.Milliseconds())})
	}

	outcome.OnSettle(func(state dv.State, payload dv.Result) {
		s.mu.Lock()
		canceled := j.status == StatusCanceled
		s.mu.Unlock()
		if canceled {
			// CancelJob already finalized the job; re-pump for the freed slot.
			s.pump()
			return
		}
		if state == dv.Fulfilled {
			s.completeJob(j, payload)
			return
		}
		_, isJobTimeout := payload.(*dverr.JobTimeoutError)
		s.mu.Lock()
		attempts := j.attempts
		s.mu.Unlock()
		s.failTerminal(j, toErr(payload), !isJobTimeout && attempts <= j.opts.Retries)
	})
}

func toErr(v dv.Result) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

func (s *Scheduler) completeJob(j *Job, result dv.Result) {
	s.mu.Lock()
	j.status = StatusCompleted
	j.result = result
	j.endTime = time.Now()
	delete(s.running, j.ID)
	s.completed = append(s.completed, j)
	s.stats.CompletedJobs++
	elapsed := j.endTime.Sub(j.startTime)
	s.stats.TotalTime += elapsed
	s.stats.AvgTime = s.stats.TotalTime / time.Duration(s.stats.CompletedJobs+s.stats.FailedJobs)
	resolve := j.waitResolve
	s.mu.Unlock()

	s.logEvent(dvconfig.LevelInfo, "job", fmt.Sprintf("job %q completed", j.ID))
	if resolve != nil {
		resolve(result)
	}
	s.pump()
}

// failTerminal routes a failed attempt: if retryable, the job reverts
// to Pending and is re-queued after RetryDelay; otherwise it is marked
// Failed and archived. Job-timeout errors never retry, regardless of
// remaining attempts.
func (s *Scheduler) failTerminal(j *Job, err error, retryable bool) {
	if retryable {
		s.mu.Lock()
		j.status = StatusPending
		j.err = nil
		delete(s.running, j.ID)
		s.awaitingRetry[j.ID] = j
		s.mu.Unlock()

		requeue := func() {
			s.mu.Lock()
			if _, stillAwaiting := s.awaitingRetry[j.ID]; !stillAwaiting {
				// canceled during the retry backoff window
				s.mu.Unlock()
				return
			}
			delete(s.awaitingRetry, j.ID)
			j.retryTimer = nil
			s.pending = append(s.pending, j)
			s.sortPendingLocked()
			s.mu.Unlock()
			s.pump()
		}
		if delay := j.opts.RetryDelay; delay <= 0 {
			requeue()
		} else {
			s.mu.Lock()
			j.retryTimer = time.AfterFunc(delay, requeue)
			s.mu.Unlock()
		}
		return
	}

	s.mu.Lock()
	j.status = StatusFailed
	j.err = err
	j.endTime = time.Now()
	delete(s.running, j.ID)
	s.completed = append(s.completed, j)
	s.stats.FailedJobs++
	elapsed := j.endTime.Sub(j.startTime)
	s.stats.TotalTime += elapsed
	s.stats.AvgTime = s.stats.TotalTime / time.Duration(s.stats.CompletedJobs+s.stats.FailedJobs)
	reject := j.waitReject
	s.mu.Unlock()

	s.logEvent(dvconfig.LevelWarn, "job", fmt.Sprintf("job %q failed: %v", j.ID, err))
	if reject != nil {
		reject(err)
	}
	s.pump()
}

// CancelJob cancels an individual job, wherever it currently lives
// (pending or running). Returns false for an unknown or already
// terminal job.
func (s *Scheduler) CancelJob(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	switch j.status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		s.mu.Unlock()
		return false
	case StatusPending:
		if _, awaiting := s.awaitingRetry[id]; awaiting {
			if j.retryTimer != nil {
				j.retryTimer.Stop()
				j.retryTimer = nil
			}
			delete(s.awaitingRetry, id)
			break
		}
		for i, p := range s.pending {
			if p.ID == id {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	case StatusRunning:
		delete(s.running, id)
	}
	j.status = StatusCanceled
	j.err = &dverr.JobCanceledError{JobID: id}
	j.endTime = time.Now()
	s.completed = append(s.completed, j)
	s.stats.CanceledJobs++
	reject := j.waitReject
	s.mu.Unlock()

	if j.cancel != nil {
		j.cancel(j.err)
	}
	if reject != nil {
		reject(j.err)
	}
	s.checkIdle()
	return true
}

// CancelAll cancels every pending and running job and returns their ids.
func (s *Scheduler) CancelAll() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending)+len(s.running)+len(s.awaitingRetry))
	for _, p := range s.pending {
		ids = append(ids, p.ID)
	}
	for id := range s.running {
		ids = append(ids, id)
	}
	for id := range s.awaitingRetry {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.CancelJob(id)
	}
	return ids
}

// GetJob returns the job registered under id, if any.
func (s *Scheduler) GetJob(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// GetStatus snapshots the scheduler's current standing.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		IsRunning: s.isRunning,
		Pending:   len(s.pending) + len(s.awaitingRetry),
		Running:   len(s.running),
		Completed: len(s.completed),
		Stats:     s.stats,
	}
}

// WaitForJob returns the job's terminal outcome synchronously if it has
// already settled, or a DeferredValue that settles once it eventually
// does (covering both a currently-running attempt and a still-Pending
// job awaiting its turn). It rejects (via dv.Reject) with a
// *dverr.SchedulerError if id is unknown.
func (s *Scheduler) WaitForJob(id string) *dv.DeferredValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return dv.Reject(&dverr.SchedulerError{Message: fmt.Sprintf("scheduler: unknown job %q", id)})
	}

	switch j.status {
	case StatusCompleted:
		return dv.Resolve(j.result)
	case StatusFailed, StatusCanceled:
		return dv.Reject(j.err)
	}

	if j.waitSignal != nil {
		return j.waitSignal
	}
	signal := dv.New(func(resolve dv.ResolveFunc, reject dv.RejectFunc, _ dv.ProgressFunc) {
		j.waitResolve = resolve
		j.waitReject = reject
	})
	j.waitSignal = signal
	return signal
}

// OnIdle lazily creates a DeferredValue that fulfills the next time
// running and pending are both empty. Subsequent calls before that
// fulfillment return the same DeferredValue; after it fulfills the slot
// clears so a later call creates a fresh one. Jobs waiting out a retry
// delay count as pending. Deciding idleness and arming the signal both
// happen while holding idleMu, which resolveIdle also takes, so a
// concurrent pump that finds the scheduler idle in between waits for
// the signal to be armed and then fulfills it instead of missing the
// wakeup.
func (s *Scheduler) OnIdle() *dv.DeferredValue {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()

	if s.idleSignal != nil {
		return s.idleSignal
	}

	s.mu.Lock()
	alreadyIdle := len(s.running) == 0 && len(s.pending) == 0 && len(s.awaitingRetry) == 0
	s.mu.Unlock()
	if alreadyIdle {
		return dv.Resolve(nil)
	}

	var resolveFn dv.ResolveFunc
	signal := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		resolveFn = resolve
	})
	s.idleSignal = signal
	s.idleResolve = resolveFn
	return signal
}

func (s *Scheduler) resolveIdle() {
	s.idleMu.Lock()
	resolve := s.idleResolve
	s.idleSignal = nil
	s.idleResolve = nil
	s.idleMu.Unlock()
	if resolve != nil {
		resolve(nil)
	}
}

func (s *Scheduler) checkIdle() {
	s.mu.Lock()
	idle := len(s.running) == 0 && len(s.pending) == 0 && len(s.awaitingRetry) == 0
	s.mu.Unlock()
	if idle {
		s.resolveIdle()
	}
}
