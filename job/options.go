package job

import (
	"github.com/joeycumines/go-catrate"
	"github.com/Ssajaia/taskflow/dvconfig"
)

// SchedulerOption configures a Scheduler via the functional-options
// pattern shared with dvconfig.Option.
type SchedulerOption func(*schedulerConfig)

type schedulerConfig struct {
	concurrency  int
	maxQueueSize int
	autoStart    bool
	dvConfig     dvconfig.Config
	admission    *catrate.Limiter
}

func defaultSchedulerConfig() schedulerConfig {
	return schedulerConfig{
		concurrency:  1,
		maxQueueSize: 0, // 0 means unbounded
		autoStart:    true,
	}
}

// WithConcurrency sets the maximum number of jobs running at once.
func WithConcurrency(n int) SchedulerOption {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxQueueSize bounds the pending queue; 0 leaves it unbounded.
func WithMaxQueueSize(n int) SchedulerOption {
	return func(c *schedulerConfig) { c.maxQueueSize = n }
}

// WithAutoStart controls whether the scheduler starts in the running
// state, so Add launches work right away (the default), or waits for an
// explicit Start.
func WithAutoStart(enabled bool) SchedulerOption {
	return func(c *schedulerConfig) { c.autoStart = enabled }
}

// WithDVConfig threads a dvconfig.Config into the cancellable
// DeferredValue built for each job attempt (its Dispatcher,
// FreezeValues, Strict and Logger; Debug is not passed on) and into the
// timeout decorator wrapped around it; the Logger also receives the
// scheduler's job log entries. The idle signal and WaitForJob signals
// are built with the default config.
func WithDVConfig(cfg dvconfig.Config) SchedulerOption {
	return func(c *schedulerConfig) { c.dvConfig = cfg }
}

// WithAdmissionLimiter attaches an optional go-catrate limiter as an
// admission-rate gate supplementing maxQueueSize: Add refuses new work
// with SchedulerCapacityError once the limiter's sliding windows are
// exhausted for the "admit" category, even if the queue has room.
func WithAdmissionLimiter(l *catrate.Limiter) SchedulerOption {
	return func(c *schedulerConfig) { c.admission = l }
}
