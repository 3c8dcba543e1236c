package dv

import (
	"sync/atomic"
	"time"

	"github.com/Ssajaia/taskflow/dverr"
	"github.com/Ssajaia/taskflow/looptick"
)

// Timeout returns a new DeferredValue that mirrors d, but arms a
// one-shot timer at creation. If the timer fires before d settles, the
// returned DeferredValue rejects with reason (wrapped in a
// *dverr.TimeoutError if reason is a string). Settlement of d cancels
// the timer either way; d itself is never canceled — a timeout only
// abandons waiting for it, it never stops the underlying work.
func (d *DeferredValue) Timeout(timeout time.Duration, reason Result) *DeferredValue {
	out := pendingWith(d.cfg)

	var fired atomic.Bool
	cancelTimer := looptick.Default().ScheduleTimer(timeout, func() {
		if fired.Swap(true) {
			return
		}
		out.rejectValue(timeoutReason(reason))
	})

	d.addLowReaction(func(state State, value Result) {
		cancelTimer()
		if fired.Swap(true) {
			return
		}
		if state == Fulfilled {
			out.resolve(value)
		} else {
			out.rejectValue(value)
		}
	})

	return out
}

// WithTimeout builds a DeferredValue from exec the same way New does, then
// immediately applies Timeout to it: a convenience for the common case of
// bounding a freshly constructed DeferredValue rather than one already in
// hand.
func WithTimeout(exec Executor, timeout time.Duration, reason Result, opts ...Option) *DeferredValue {
	return New(exec, opts...).Timeout(timeout, reason)
}

func timeoutReason(reason Result) Result {
	if s, ok := reason.(string); ok {
		return &dverr.TimeoutError{Message: s}
	}
	if reason == nil {
		return &dverr.TimeoutError{}
	}
	return reason
}
