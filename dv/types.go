// Package dv implements the Deferred Value: a single-assignment container
// for an eventually known value or rejection, compliant with the classical
// deferred-value (Promise/A+-style) interop contract — thenable
// assimilation, run-to-completion settlement, asynchronous handler
// dispatch — while adding timeouts, cooperative cancellation, progress
// notification, observable state, and settlement hooks.
package dv

import "sync/atomic"

// Result is the dynamically-typed payload carried by a DeferredValue:
// the fulfillment value, or the rejection reason.
type Result = any

// State is the lifecycle state of a DeferredValue. A DeferredValue starts
// Pending and transitions at most once, to either Fulfilled or Rejected.
type State int32

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Fulfilled:
		return "Fulfilled"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// ResolveFunc fulfills a DeferredValue with a value. Calling it on an
// already-settled DeferredValue has no effect beyond the configured
// double-settle reporting. Safe to call from any goroutine.
type ResolveFunc func(Result)

// RejectFunc rejects a DeferredValue with a reason. Safe to call from
// any goroutine.
type RejectFunc func(Result)

// ProgressFunc emits a progress notification while a DeferredValue is
// still Pending. Emissions after settlement are silently dropped.
type ProgressFunc func(Result)

// Executor is invoked synchronously by New, receiving the three
// callbacks used to drive the new DeferredValue to settlement. A panic
// raised by the executor is routed to reject.
type Executor func(resolve ResolveFunc, reject RejectFunc, progress ProgressFunc)

// HandlerFunc reacts to settlement of a DeferredValue in Then/Catch. Its
// return value feeds the full resolution procedure of the chained
// DeferredValue; a panic rejects the chained DeferredValue.
type HandlerFunc func(Result) Result

// SettleHook observes settlement of a DeferredValue regardless of
// outcome. Panics raised by a hook are logged and swallowed; they never
// affect the DeferredValue.
type SettleHook func(state State, payload Result)

// CancelFunc requests cancellation of a cancellable DeferredValue,
// rejecting it with a cancellation error if and only if it is still
// Pending. Returns whether the cancellation took effect.
type CancelFunc func(reason Result) bool

// lowReaction is the internal, un-typed continuation queued on a
// DeferredValue: both Then/Catch handlers and thenable-adoption
// subscriptions are lowReactions, which keeps registration-order FIFO
// semantics uniform across both uses.
type lowReaction func(state State, value Result)

var idCounter atomic.Uint64

func nextID() uint64 { return idCounter.Add(1) }
