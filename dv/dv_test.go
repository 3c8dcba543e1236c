package dv_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ssajaia/taskflow/dv"
	"github.com/Ssajaia/taskflow/dverr"
	"github.com/Ssajaia/taskflow/dvconfig"
)

func inline() dvconfig.Option { return dvconfig.WithDispatcher(dvconfig.Inline()) }

func waitState(t *testing.T, d *dv.DeferredValue) dv.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.State() != dv.Pending {
			return d.State()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("deferred value did not settle in time, still %s", d.State())
	return d.State()
}

func TestThenChainsFulfillmentValue(t *testing.T) {
	d := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		resolve(1)
	}, inline())
	out := d.Then(func(x dv.Result) dv.Result { return x.(int) + 1 }, nil)
	waitState(t, out)
	require.Equal(t, dv.Fulfilled, out.State())
	assert.Equal(t, 2, out.Value())
}

func TestTimeoutRejectsWhenUnderlyingSettlesTooLate(t *testing.T) {
	d := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		time.AfterFunc(50*time.Millisecond, func() { resolve("v") })
	})
	out := d.Timeout(10*time.Millisecond, "slow")
	waitState(t, out)
	require.Equal(t, dv.Rejected, out.State())
	var timeoutErr *dverr.TimeoutError
	require.True(t, errors.As(out.Reason().(error), &timeoutErr))
	assert.Equal(t, "slow", timeoutErr.Message)
}

func TestAnyRejectsWithAggregateWhenAllInputsReject(t *testing.T) {
	a := dv.Reject("a")
	b := dv.Reject("b")
	out := dv.Any([]*dv.DeferredValue{a, b})
	waitState(t, out)
	require.Equal(t, dv.Rejected, out.State())
	var agg *dverr.AggregateError
	require.True(t, errors.As(out.Reason().(error), &agg))
	require.Len(t, agg.Errors, 2)
	assert.Equal(t, "a", agg.Errors[0].Error())
	assert.Equal(t, "b", agg.Errors[1].Error())
}

func TestResolveThenIdentityRoundTripsValue(t *testing.T) {
	out := dv.Resolve(42, inline()).Then(func(x dv.Result) dv.Result { return x }, nil)
	waitState(t, out)
	assert.Equal(t, 42, out.Value())
}

func TestAllSettledNeverRejects(t *testing.T) {
	out := dv.AllSettled([]*dv.DeferredValue{dv.Resolve(1), dv.Reject("x")})
	waitState(t, out)
	assert.Equal(t, dv.Fulfilled, out.State())
	outcomes := out.Value().([]dv.Outcome)
	require.Len(t, outcomes, 2)
	assert.Equal(t, dv.Fulfilled, outcomes[0].State)
	assert.Equal(t, dv.Rejected, outcomes[1].State)
}

func TestAnyWithNoInputsRejectsWithEmptyAggregate(t *testing.T) {
	out := dv.Any(nil)
	waitState(t, out)
	require.Equal(t, dv.Rejected, out.State())
	var agg *dverr.AggregateError
	require.True(t, errors.As(out.Reason().(error), &agg))
	assert.Empty(t, agg.Errors)
}

func TestSelfResolutionRejectsWithTypeError(t *testing.T) {
	var resolveSelf dv.ResolveFunc
	self := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		resolveSelf = resolve
	}, inline())
	resolveSelf(self)
	waitState(t, self)
	require.Equal(t, dv.Rejected, self.State())
	var typeErr *dverr.TypeError
	require.True(t, errors.As(self.Reason().(error), &typeErr))
}

func TestDoubleSettle_StrictPanics(t *testing.T) {
	assert.Panics(t, func() {
		dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
			resolve("first")
			resolve("second")
		}, inline(), dvconfig.WithStrict(true))
	})
}

func TestDoubleSettle_NonStrictSwallowsSecond(t *testing.T) {
	d := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		resolve("first")
		resolve("second")
	}, inline())
	require.Equal(t, dv.Fulfilled, d.State())
	assert.Equal(t, "first", d.Value())
}

func TestThenableAssimilation(t *testing.T) {
	inner := dv.Resolve("nested", inline())
	outer := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, _ dv.ProgressFunc) {
		resolve(inner)
	}, inline())
	waitState(t, outer)
	require.Equal(t, dv.Fulfilled, outer.State())
	assert.Equal(t, "nested", outer.Value())
}

func TestCatchPassesThroughFulfillment(t *testing.T) {
	out := dv.Resolve(7, inline()).Catch(func(r dv.Result) dv.Result { return -1 })
	waitState(t, out)
	assert.Equal(t, 7, out.Value())
}

func TestFinallyRunsOnBothOutcomesAndPreservesThem(t *testing.T) {
	var ran int
	ok := dv.Resolve("ok", inline()).Finally(func() dv.Result { ran++; return nil })
	waitState(t, ok)
	assert.Equal(t, "ok", ok.Value())

	failed := dv.Reject("bad", inline()).Finally(func() dv.Result { ran++; return nil })
	waitState(t, failed)
	assert.Equal(t, "bad", failed.Reason())
	assert.Equal(t, 2, ran)
}

func TestCancellable(t *testing.T) {
	d, cancel := dv.Cancellable(func(resolve dv.ResolveFunc, reject dv.RejectFunc, _ dv.ProgressFunc) {
		// never settles on its own
	}, inline())
	require.True(t, cancel("stopped"))
	waitState(t, d)
	var cancelErr *dverr.CancelError
	require.True(t, errors.As(d.Reason().(error), &cancelErr))
	assert.Equal(t, "stopped", cancelErr.Reason)
	assert.False(t, cancel("again"))
}

func TestProgressReplayToLateSubscriber(t *testing.T) {
	d := dv.New(func(resolve dv.ResolveFunc, _ dv.RejectFunc, progress dv.ProgressFunc) {
		progress(1)
		progress(2)
	}, inline())

	var received []int
	d.Progress(func(v dv.Result) { received = append(received, v.(int)) })
	assert.Equal(t, []int{1, 2}, received)
}

func TestFreezeValuesCopiesCompoundFulfillment(t *testing.T) {
	original := map[string]int{"a": 1}
	d := dv.Resolve(original, inline(), dvconfig.WithFreezeValues(true))
	waitState(t, d)
	frozen, ok := d.Value().(dv.Frozen)
	require.True(t, ok)
	snapshot := frozen.Unwrap().(map[string]int)
	snapshot["a"] = 99
	assert.Equal(t, 1, original["a"])
}

func TestWithTimeoutBuildsAndBoundsInOneCall(t *testing.T) {
	out := dv.WithTimeout(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {
		// never settles on its own
	}, 10*time.Millisecond, "slow")
	waitState(t, out)
	require.Equal(t, dv.Rejected, out.State())
	var timeoutErr *dverr.TimeoutError
	require.True(t, errors.As(out.Reason().(error), &timeoutErr))
}

func TestStackTraceCombinesCreationAndRejection(t *testing.T) {
	withDebug := dvconfig.WithDebug(true)
	pending := dv.New(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {}, inline(), withDebug)
	assert.NotEmpty(t, pending.StackTrace())
	assert.Equal(t, pending.CreationStackTrace(), pending.StackTrace())

	rejected := dv.Reject("boom", inline(), withDebug)
	waitState(t, rejected)
	combined := rejected.StackTrace()
	assert.Contains(t, combined, rejected.CreationStackTrace())
	assert.Contains(t, combined, rejected.RejectionStackTrace())
}

func TestScopeCancelsRemainingChildrenOnFirstRejection(t *testing.T) {
	var longACanceled, longCCanceled bool

	out := dv.Scope(func(h *dv.ScopeHandle) dv.Result {
		longA, cancelA := dv.Cancellable(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {})
		longC, cancelC := dv.Cancellable(func(dv.ResolveFunc, dv.RejectFunc, dv.ProgressFunc) {})
		h.Add(longA)
		h.Add(dv.Reject("b-failed"))
		h.Add(longC)

		longA.OnSettle(func(state dv.State, _ dv.Result) { longACanceled = state == dv.Rejected })
		longC.OnSettle(func(state dv.State, _ dv.Result) { longCCanceled = state == dv.Rejected })
		_ = cancelA
		_ = cancelC
		return nil
	})

	waitState(t, out)
	require.Equal(t, dv.Rejected, out.State())
	assert.Equal(t, "b-failed", out.Reason())
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !(longACanceled && longCCanceled) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, longACanceled)
	assert.True(t, longCCanceled)
}
