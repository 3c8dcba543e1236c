// Package dvconfig holds the dispatch policy, freeze, strict, logging,
// and debug knobs as an explicit, threadable Config object passed to the
// DV constructor and combinators, instead of process-wide globals.
package dvconfig

import "github.com/Ssajaia/taskflow/looptick"

// DispatchFunc defers execution of step until after the current
// synchronous region ends — the spec's "suspension point." Every
// DV handler dispatch goes through one of these.
type DispatchFunc func(step func())

// Dispatcher selects which DispatchFunc a Config uses. It is an opaque
// wrapper so zero-value Config resolves to the microtask default without
// requiring callers to know the underlying Loop.
type Dispatcher struct {
	fn DispatchFunc
}

// Dispatch returns the underlying DispatchFunc, resolving the microtask
// default (the process-wide looptick.Default loop) when unset.
func (d Dispatcher) Dispatch() DispatchFunc {
	if d.fn == nil {
		return Microtask().fn
	}
	return d.fn
}

// Microtask dispatches via the default looptick.Loop's microtask queue:
// handlers run after the current synchronous region, before any pending
// macrotask, and in registration order.
func Microtask() Dispatcher {
	return Dispatcher{fn: func(step func()) {
		looptick.Default().ScheduleMicrotask(step)
	}}
}

// MicrotaskOn dispatches via the given Loop's microtask queue instead of
// the process-wide default, for callers driving their own Loop.
func MicrotaskOn(loop *looptick.Loop) Dispatcher {
	return Dispatcher{fn: func(step func()) {
		loop.ScheduleMicrotask(step)
	}}
}

// Macrotask dispatches via the default Loop's macrotask queue: coarser
// granularity than Microtask, yielding to any already-queued microtasks
// first.
func Macrotask() Dispatcher {
	return Dispatcher{fn: func(step func()) {
		looptick.Default().Submit(step)
	}}
}

// MacrotaskOn is the Loop-scoped equivalent of Macrotask.
func MacrotaskOn(loop *looptick.Loop) Dispatcher {
	return Dispatcher{fn: func(step func()) {
		loop.Submit(step)
	}}
}

// Custom wraps a caller-supplied scheduler function, matching the spec's
// `(step: () => void) => void` configuration option. The caller is
// responsible for eventually invoking step exactly once.
func Custom(schedule func(step func())) Dispatcher {
	return Dispatcher{fn: schedule}
}

// Inline dispatches step synchronously, on the calling goroutine. This
// violates the spec's "asynchronous handler dispatch" guarantee and
// exists only for tests that need deterministic, stack-local ordering;
// production code should use Microtask, Macrotask, or Custom.
func Inline() Dispatcher {
	return Dispatcher{fn: func(step func()) { step() }}
}
