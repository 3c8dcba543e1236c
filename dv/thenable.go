package dv

import "reflect"

// chainMethodName is the capability-test method name: any value exposing
// a Then(resolve, reject) method is treated as a thenable regardless of
// its static type, so callers never need to tag their thenables — this
// is a dynamic duck-typing boundary, not a Go interface requirement.
const chainMethodName = "Then"

// thenFunc is the shape resolve() drives a thenable through: given two
// callbacks, the thenable settles by invoking at most one of them,
// possibly asynchronously and possibly more than once (the caller of
// thenFunc is responsible for guarding against that).
type thenFunc func(resolvePromise, rejectPromise func(Result))

// asThenable returns a thenFunc if x exposes a Then method compatible
// with the chain protocol (two function-typed parameters), and
// ok=false otherwise. *DeferredValue is recognized directly via
// dvAdapter so adoption of a nested DeferredValue reuses the same
// low-level subscription path as a foreign thenable.
func asThenable(x Result) (thenFunc, bool) {
	if x == nil {
		return nil, false
	}
	if dvv, ok := x.(*DeferredValue); ok {
		return dvAdapter(dvv), true
	}

	v := reflect.ValueOf(x)
	m := v.MethodByName(chainMethodName)
	if !m.IsValid() {
		return nil, false
	}
	mt := m.Type()
	if mt.NumIn() != 2 || mt.IsVariadic() {
		return nil, false
	}
	for i := 0; i < 2; i++ {
		if mt.In(i).Kind() != reflect.Func {
			return nil, false
		}
	}

	return func(resolvePromise, rejectPromise func(Result)) {
		onFulfilled := reflect.MakeFunc(mt.In(0), func(args []reflect.Value) []reflect.Value {
			resolvePromise(argValue(args))
			return zeroResultsFor(mt.In(0))
		})
		onRejected := reflect.MakeFunc(mt.In(1), func(args []reflect.Value) []reflect.Value {
			rejectPromise(argValue(args))
			return zeroResultsFor(mt.In(1))
		})
		m.Call([]reflect.Value{onFulfilled, onRejected})
	}, true
}

func argValue(args []reflect.Value) Result {
	if len(args) == 0 {
		return nil
	}
	return args[0].Interface()
}

func zeroResultsFor(fnType reflect.Type) []reflect.Value {
	out := make([]reflect.Value, fnType.NumOut())
	for i := range out {
		out[i] = reflect.Zero(fnType.Out(i))
	}
	return out
}

// dvAdapter lets a *DeferredValue assimilate as a thenable through the
// same lowReaction queue used by Then: the source's own dispatch
// policy governs when resolvePromise/rejectPromise fire, so adoption
// timing matches the adopted value's own settlement, not the adopter's.
func dvAdapter(source *DeferredValue) thenFunc {
	return func(resolvePromise, rejectPromise func(Result)) {
		source.addLowReaction(func(state State, value Result) {
			if state == Fulfilled {
				resolvePromise(value)
			} else {
				rejectPromise(value)
			}
		})
	}
}
