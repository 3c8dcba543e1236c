package dv

import (
	"sync/atomic"

	"github.com/Ssajaia/taskflow/dverr"
)

// Outcome is one slot of an AllSettled result: exactly one of Value or
// Reason is meaningful, discriminated by State.
type Outcome struct {
	State  State
	Value  Result
	Reason Result
}

// Resolve wraps x the same way the full resolution procedure would:
// identity on an existing *DeferredValue, thenable adoption, or a
// fulfilled DV wrapping a plain value.
func Resolve(x Result, opts ...Option) *DeferredValue {
	if dvv, ok := x.(*DeferredValue); ok {
		return dvv
	}
	return New(func(resolve ResolveFunc, reject RejectFunc, _ ProgressFunc) {
		resolve(x)
	}, opts...)
}

// Reject returns an immediately rejected DeferredValue.
func Reject(reason Result, opts ...Option) *DeferredValue {
	return New(func(_ ResolveFunc, reject RejectFunc, _ ProgressFunc) {
		reject(reason)
	}, opts...)
}

// All fulfills with a slice of values in input order once every input
// has fulfilled, or rejects with the first rejection reason encountered.
// An empty input fulfills immediately with an empty slice.
func All(inputs []*DeferredValue, opts ...Option) *DeferredValue {
	return New(func(resolve ResolveFunc, reject RejectFunc, _ ProgressFunc) {
		n := len(inputs)
		if n == 0 {
			resolve([]Result{})
			return
		}
		values := make([]Result, n)
		var remaining atomic.Int64
		remaining.Store(int64(n))
		var done atomic.Bool

		for i, in := range inputs {
			i, in := i, in
			in.addLowReaction(func(state State, value Result) {
				if done.Load() {
					return
				}
				if state == Rejected {
					if done.Swap(true) {
						return
					}
					reject(value)
					return
				}
				values[i] = value
				if remaining.Add(-1) == 0 {
					if !done.Swap(true) {
						resolve(values)
					}
				}
			})
		}
	}, opts...)
}

// Race settles with the first settlement (fulfillment or rejection)
// among inputs, in whichever order it occurs. An empty input never
// settles.
func Race(inputs []*DeferredValue, opts ...Option) *DeferredValue {
	return New(func(resolve ResolveFunc, reject RejectFunc, _ ProgressFunc) {
		var done atomic.Bool
		for _, in := range inputs {
			in := in
			in.addLowReaction(func(state State, value Result) {
				if done.Swap(true) {
					return
				}
				if state == Fulfilled {
					resolve(value)
				} else {
					reject(value)
				}
			})
		}
	}, opts...)
}

// AllSettled always fulfills, with a slice of Outcome in input order,
// once every input has settled. It never rejects.
func AllSettled(inputs []*DeferredValue, opts ...Option) *DeferredValue {
	return New(func(resolve ResolveFunc, _ RejectFunc, _ ProgressFunc) {
		n := len(inputs)
		if n == 0 {
			resolve([]Outcome{})
			return
		}
		results := make([]Outcome, n)
		var remaining atomic.Int64
		remaining.Store(int64(n))

		for i, in := range inputs {
			i, in := i, in
			in.addLowReaction(func(state State, value Result) {
				if state == Fulfilled {
					results[i] = Outcome{State: Fulfilled, Value: value}
				} else {
					results[i] = Outcome{State: Rejected, Reason: value}
				}
				if remaining.Add(-1) == 0 {
					resolve(results)
				}
			})
		}
	}, opts...)
}

// Any fulfills with the first fulfillment among inputs, or rejects with
// an AggregateError once every input has rejected. An empty input set
// rejects immediately with an empty AggregateError, since there is
// nothing left that could still fulfill.
func Any(inputs []*DeferredValue, opts ...Option) *DeferredValue {
	return New(func(resolve ResolveFunc, reject RejectFunc, _ ProgressFunc) {
		n := len(inputs)
		if n == 0 {
			reject(&dverr.AggregateError{Errors: nil, Message: dverr.ErrEmptyAny.Error()})
			return
		}
		reasons := make([]error, n)
		var remaining atomic.Int64
		remaining.Store(int64(n))
		var done atomic.Bool

		for i, in := range inputs {
			i, in := i, in
			in.addLowReaction(func(state State, value Result) {
				if done.Load() {
					return
				}
				if state == Fulfilled {
					if !done.Swap(true) {
						resolve(value)
					}
					return
				}
				reasons[i] = toError(value)
				if remaining.Add(-1) == 0 {
					if !done.Swap(true) {
						reject(&dverr.AggregateError{Errors: reasons, Message: "all promises were rejected"})
					}
				}
			})
		}
	}, opts...)
}
