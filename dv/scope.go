package dv

import (
	"sync"

	"github.com/Ssajaia/taskflow/dverr"
)

// ScopeHandle is passed to a Scope task, letting it register child work.
type ScopeHandle struct {
	scope *scopeState
}

// scopeState tracks a Scope's children and whether admission is still
// open, guarded by one mutex since add/fail/finish all race against the
// task goroutine and child settlement callbacks.
type scopeState struct {
	mu       sync.Mutex
	children []*DeferredValue
	failed   bool
	taskDone bool
	out      *DeferredValue
}

// Add evaluates work (a *DeferredValue, a func() Result thunk, or any
// plain value/thenable accepted by Resolve), registers it as a child of
// the scope, and attaches a failure monitor that cancels the rest of the
// scope's children on the child's first rejection. It returns an
// immediately rejected DeferredValue if the scope's task has already
// returned.
func (h *ScopeHandle) Add(work any) *DeferredValue {
	s := h.scope
	s.mu.Lock()
	if s.taskDone {
		s.mu.Unlock()
		return Reject(&dverr.SchedulerError{Message: "scope task already completed"})
	}
	s.mu.Unlock()

	var child *DeferredValue
	switch v := work.(type) {
	case func() Result:
		child = Resolve(v())
	case *DeferredValue:
		child = v
	default:
		child = Resolve(work)
	}

	s.mu.Lock()
	if s.taskDone || s.failed {
		s.mu.Unlock()
		return Reject(&dverr.SchedulerError{Message: "scope task already completed"})
	}
	s.children = append(s.children, child)
	s.mu.Unlock()

	child.addLowReaction(func(state State, payload Result) {
		if state != Rejected {
			return
		}
		s.fail(payload)
	})

	return child
}

func (s *scopeState) fail(reason Result) {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	children := append([]*DeferredValue(nil), s.children...)
	s.mu.Unlock()

	for _, c := range children {
		if c.cancelable && c.State() == Pending {
			c.Cancel(reason)
		}
	}
	s.out.rejectValue(reason)
}

// Scope creates a cooperative sub-region: task receives a *ScopeHandle
// it can Add children to. If task panics or returns a rejected
// DeferredValue, remaining children are canceled and the scope rejects
// with that error; otherwise the scope awaits every child via
// AllSettled and then fulfills with task's own return value.
func Scope(task func(h *ScopeHandle) Result, opts ...Option) *DeferredValue {
	out := New(nil, opts...)
	s := &scopeState{out: out}
	h := &ScopeHandle{scope: s}

	out.dispatch(func() {
		ret, panicked := func() (r Result, p any) {
			defer func() { p = recover() }()
			r = task(h)
			return
		}()

		s.mu.Lock()
		s.taskDone = true
		children := append([]*DeferredValue(nil), s.children...)
		failed := s.failed
		s.mu.Unlock()

		if panicked != nil {
			s.fail(toError(panicked))
			return
		}
		if failed {
			return
		}
		if taskDV, ok := ret.(*DeferredValue); ok && taskDV.State() == Rejected {
			s.fail(taskDV.Reason())
			return
		}

		AllSettled(children).OnSettle(func(state State, _ Result) {
			s.mu.Lock()
			alreadyFailed := s.failed
			s.mu.Unlock()
			if alreadyFailed {
				return
			}
			out.resolve(ret)
		})
	})

	return out
}
