package dv

import (
	"fmt"
	"runtime"
)

// captureStack records up to 32 frames into *dst, skipping skip frames,
// but only when the DeferredValue was built with dvconfig.WithDebug — the
// runtime.Callers walk is skipped entirely otherwise.
func (d *DeferredValue) captureStack(dst *[]uintptr, skip int) {
	if !d.cfg.Debug {
		return
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n > 0 {
		*dst = pcs[:n]
	}
}

// CreationStackTrace formats where this DeferredValue was constructed, or
// "" if debug capture was not enabled.
func (d *DeferredValue) CreationStackTrace() string {
	return formatStack(d.creationStack)
}

// RejectionStackTrace formats where this DeferredValue was rejected, or ""
// if it never rejected or debug capture was not enabled.
func (d *DeferredValue) RejectionStackTrace() string {
	return formatStack(d.rejectionStack)
}

// StackTrace returns the creation stack alone while not Rejected, or the
// creation stack followed by the rejection stack once it is. Both halves
// are "" if debug capture was not enabled.
func (d *DeferredValue) StackTrace() string {
	creation := d.CreationStackTrace()
	if d.State() != Rejected {
		return creation
	}
	rejection := d.RejectionStackTrace()
	if creation == "" {
		return rejection
	}
	if rejection == "" {
		return creation
	}
	return creation + "\n--- rejected at ---\n" + rejection
}

func formatStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var result string
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			if result != "" {
				result += "\n"
			}
			result += fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return result
}
