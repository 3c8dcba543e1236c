package dv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Ssajaia/taskflow/dverr"
	"github.com/Ssajaia/taskflow/dvconfig"
)

// Option configures a DeferredValue's dvconfig.Config at construction.
// It is an alias, not a wrapper, so callers pass dvconfig.With* options
// directly to New and the combinators.
type Option = dvconfig.Option

// DeferredValue is a single-assignment container for an eventually known
// value or rejection. Its state transitions at most once, Pending to
// either Fulfilled or Rejected; registered continuations are invoked
// exactly once, asynchronously, in registration order.
type DeferredValue struct {
	cfg dvconfig.Config
	id  uint64

	state atomic.Int32

	mu          sync.Mutex
	value       Result
	settleHooks []SettleHook
	reactions   []lowReaction

	progressMu   sync.Mutex
	progressBuf  []Result
	progressSubs []ProgressFunc

	creationStack  []uintptr
	rejectionStack []uintptr

	cancelable bool
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

func pendingWith(cfg dvconfig.Config) *DeferredValue {
	d := &DeferredValue{cfg: cfg, id: nextID()}
	d.state.Store(int32(Pending))
	d.captureStack(&d.creationStack, 3)
	return d
}

// New creates a pending DeferredValue and invokes exec synchronously. A
// panic raised by exec is routed to reject, matching the spec's
// "synchronous failure routed to reject" rule.
func New(exec Executor, opts ...Option) *DeferredValue {
	return newWithConfig(exec, dvconfig.New(opts...))
}

func newWithConfig(exec Executor, cfg dvconfig.Config) *DeferredValue {
	d := pendingWith(cfg)
	d.runExecutor(exec)
	return d
}

func (d *DeferredValue) runExecutor(exec Executor) {
	if exec == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.rejectValue(toError(r))
		}
	}()
	exec(d.resolve, d.rejectValue, d.emitProgress)
}

// State returns the current lifecycle state. Safe from any goroutine.
func (d *DeferredValue) State() State { return State(d.state.Load()) }

// Value returns the fulfillment value. Panics — calling it on anything
// but a Fulfilled DeferredValue is a programmer error, not a runtime
// condition to recover from — if the DeferredValue is not Fulfilled.
func (d *DeferredValue) Value() Result {
	if d.State() != Fulfilled {
		panic(&dverr.TypeError{Message: fmt.Sprintf("dv: Value() called on deferred value #%d in state %s", d.id, d.State())})
	}
	return d.value
}

// Reason returns the rejection reason. Panics if the DeferredValue is
// not Rejected.
func (d *DeferredValue) Reason() Result {
	if d.State() != Rejected {
		panic(&dverr.TypeError{Message: fmt.Sprintf("dv: Reason() called on deferred value #%d in state %s", d.id, d.State())})
	}
	return d.value
}

// resolve implements the full resolution procedure: guard against a
// double-settle, reject on self-resolution, adopt a thenable's eventual
// outcome instead of fulfilling with the thenable itself, otherwise
// fulfill directly.
func (d *DeferredValue) resolve(x Result) {
	if d.State() != Pending {
		d.handleDoubleSettle()
		return
	}

	if dvv, ok := x.(*DeferredValue); ok && dvv == d {
		d.rejectValue(&dverr.TypeError{Message: fmt.Sprintf("dv: self-resolution of deferred value #%d", d.id)})
		return
	}

	if then, ok := asThenable(x); ok {
		d.adopt(then)
		return
	}

	if !d.finalize(Fulfilled, x) {
		d.handleDoubleSettle()
	}
}

// rejectValue implements rejection, which has no thenable-adoption step.
func (d *DeferredValue) rejectValue(r Result) {
	if d.State() != Pending {
		d.handleDoubleSettle()
		return
	}
	if !d.finalize(Rejected, r) {
		d.handleDoubleSettle()
	}
}

// adopt delegates this DeferredValue's outcome to a thenable's first
// effective settlement, guarding against a malformed thenable invoking
// either callback more than once or invoking both.
func (d *DeferredValue) adopt(then thenFunc) {
	var called atomic.Bool

	resolvePromise := func(v Result) {
		if called.CompareAndSwap(false, true) {
			d.resolve(v)
		}
	}
	rejectPromise := func(r Result) {
		if called.CompareAndSwap(false, true) {
			d.rejectValue(r)
		}
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				if called.CompareAndSwap(false, true) {
					d.rejectValue(toError(r))
				}
			}
		}()
		then(resolvePromise, rejectPromise)
	}()
}

// finalize performs the single, guarded state transition. Returns false
// if the DeferredValue was no longer Pending.
func (d *DeferredValue) finalize(state State, v Result) bool {
	d.mu.Lock()
	if d.State() != Pending {
		d.mu.Unlock()
		return false
	}

	if state == Fulfilled && d.cfg.FreezeValues {
		v = deepFreeze(v)
	}

	d.value = v
	hooks := d.settleHooks
	d.settleHooks = nil
	reactions := d.reactions
	d.reactions = nil
	d.state.Store(int32(state))
	d.mu.Unlock()

	if state == Rejected {
		d.captureStack(&d.rejectionStack, 4)
	}

	d.clearProgress()
	d.drainHooks(hooks, state, v)
	d.drainReactions(reactions, state, v)
	return true
}

func (d *DeferredValue) handleDoubleSettle() {
	if d.cfg.Strict {
		panic(&dverr.TypeError{Message: fmt.Sprintf("dv: double-settle attempt on deferred value #%d", d.id)})
	}
	d.cfg.LogSwallowed("settle", fmt.Sprintf("ignored double-settle attempt on deferred value #%d", d.id), nil)
}

// dispatch defers step via the configured dispatch policy, realizing the
// spec's "handler dispatch is asynchronous even when already settled"
// guarantee.
func (d *DeferredValue) dispatch(step func()) {
	d.cfg.Dispatcher.Dispatch()(step)
}

// addLowReaction registers a continuation, scheduling it immediately
// (through the dispatcher) if already settled, or queuing it for the
// settle-time drain otherwise. Registration order is preserved by the
// FIFO reactions slice.
func (d *DeferredValue) addLowReaction(fn lowReaction) {
	if d.State() != Pending {
		state, val := d.settledSnapshot()
		d.dispatch(func() { fn(state, val) })
		return
	}

	d.mu.Lock()
	if d.State() != Pending {
		state, val := d.state.Load(), d.value
		d.mu.Unlock()
		d.dispatch(func() { fn(State(state), val) })
		return
	}
	d.reactions = append(d.reactions, fn)
	d.mu.Unlock()
}

func (d *DeferredValue) settledSnapshot() (State, Result) {
	return d.State(), d.value
}

func (d *DeferredValue) drainReactions(reactions []lowReaction, state State, value Result) {
	for _, r := range reactions {
		r := r
		d.dispatch(func() { r(state, value) })
	}
}

// OnSettle registers a hook invoked with (state, payload) at settlement,
// regardless of outcome. If already settled, the hook runs synchronously.
// Hook panics are logged and swallowed.
func (d *DeferredValue) OnSettle(cb SettleHook) {
	if cb == nil {
		return
	}
	if d.State() != Pending {
		state, val := d.settledSnapshot()
		d.safeHook(cb, state, val)
		return
	}
	d.mu.Lock()
	if d.State() != Pending {
		state, val := d.state.Load(), d.value
		d.mu.Unlock()
		d.safeHook(cb, State(state), val)
		return
	}
	d.settleHooks = append(d.settleHooks, cb)
	d.mu.Unlock()
}

func (d *DeferredValue) drainHooks(hooks []SettleHook, state State, payload Result) {
	for _, h := range hooks {
		d.safeHook(h, state, payload)
	}
}

func (d *DeferredValue) safeHook(cb SettleHook, state State, payload Result) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.LogSwallowed("settle-hook", fmt.Sprintf("settlement hook panicked on deferred value #%d", d.id), toError(r))
		}
	}()
	cb(state, payload)
}

// Cancel rejects the DeferredValue with a cancellation error, if and
// only if it was constructed as cancelable (via Cancellable) and is
// still Pending. Returns whether cancellation took effect.
func (d *DeferredValue) Cancel(reason ...Result) bool {
	if !d.cancelable {
		return false
	}
	if d.State() != Pending {
		return false
	}
	var r Result
	if len(reason) > 0 {
		r = reason[0]
	}
	return d.finalize(Rejected, &dverr.CancelError{Reason: r})
}
