package dv

import (
	"sync/atomic"

	"github.com/Ssajaia/taskflow/dvconfig"
)

// Then returns a new DeferredValue chained off d. onFulfilled runs if d
// fulfills, onRejected if d rejects; either may be nil, in which case
// the settled payload passes through unchanged rather than being
// dropped. The chained DeferredValue inherits d's config.
func (d *DeferredValue) Then(onFulfilled, onRejected HandlerFunc) *DeferredValue {
	out := pendingWith(d.cfg)
	d.addLowReaction(func(state State, value Result) {
		var h HandlerFunc
		if state == Fulfilled {
			h = onFulfilled
		} else {
			h = onRejected
		}
		if h == nil {
			if state == Fulfilled {
				out.resolve(value)
			} else {
				out.rejectValue(value)
			}
			return
		}
		out.runReaction(h, value)
	})
	return out
}

// Catch is Then(nil, onRejected).
func (d *DeferredValue) Catch(onRejected HandlerFunc) *DeferredValue {
	return d.Then(nil, onRejected)
}

// Finally runs f on either outcome, awaiting its returned value if it is
// itself a thenable, then re-emits the original outcome unchanged. An f
// panic, or a rejection of the awaited thenable, replaces the original
// outcome with that failure instead.
func (d *DeferredValue) Finally(f func() Result) *DeferredValue {
	out := pendingWith(d.cfg)
	d.addLowReaction(func(state State, value Result) {
		out.dispatch(func() {
			proceed := func() {
				if state == Fulfilled {
					out.resolve(value)
				} else {
					out.rejectValue(value)
				}
			}

			ret, panicked := func() (r Result, p any) {
				defer func() { p = recover() }()
				r = f()
				return
			}()
			if panicked != nil {
				out.rejectValue(toError(panicked))
				return
			}

			then, ok := asThenable(ret)
			if !ok {
				proceed()
				return
			}

			var called atomic.Bool
			func() {
				defer func() {
					if r := recover(); r != nil {
						if called.CompareAndSwap(false, true) {
							out.rejectValue(toError(r))
						}
					}
				}()
				then(
					func(Result) {
						if called.CompareAndSwap(false, true) {
							proceed()
						}
					},
					func(reason Result) {
						if called.CompareAndSwap(false, true) {
							out.rejectValue(reason)
						}
					},
				)
			}()
		})
	})
	return out
}

// runReaction invokes h with payload, then runs the full resolution
// procedure on its return value — a panic rejects out, matching the
// "thrown errors from the handler reject the outer DV" rule.
func (out *DeferredValue) runReaction(h HandlerFunc, payload Result) {
	out.dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				out.rejectValue(toError(r))
			}
		}()
		out.resolve(h(payload))
	})
}

// Cancellable returns a new cancelable DeferredValue built the same way
// New does, plus a CancelFunc bound to it. Calling cancel rejects the
// DeferredValue with a *dverr.CancelError if and only if it is still
// Pending; a non-cancelable DV's Cancel always returns false, but every
// DV returned from Cancellable is cancelable by construction.
func Cancellable(exec Executor, opts ...Option) (*DeferredValue, CancelFunc) {
	cfg := dvconfig.New(opts...)
	d := pendingWith(cfg)
	d.cancelable = true
	d.runExecutor(exec)
	return d, func(reason Result) bool { return d.Cancel(reason) }
}
