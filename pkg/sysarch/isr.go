package sysarch

import (
	"runtime"
	"sync"
)

// InterruptContext is handed to interrupt handlers by RunISR. Operations
// reachable from interrupt context take it as their first argument; they
// must not block or allocate, and they record any task switch they imply
// here instead of yielding inline.
type InterruptContext struct {
	switchRequested bool
}

// RequestSwitch records that a higher-priority task may have been woken. The
// switch happens in RunISR's epilogue.
func (ic *InterruptContext) RequestSwitch() {
	ic.switchRequested = true
}

// SwitchRequested reports whether any operation asked for a task switch.
func (ic *InterruptContext) SwitchRequested() bool {
	return ic.switchRequested
}

// isrFrame is the interrupt state of one task.
type isrFrame struct {
	depth int
	ic    *InterruptContext
}

// inISR maps a task ID to its isrFrame while it runs a handler.
var inISR sync.Map // uint64 -> *isrFrame

// RunISR runs handler in interrupt context on the calling goroutine. After
// the handler returns, a requested task switch is performed by yielding the
// processor, mirroring an interrupt epilogue. It reports whether a switch
// was requested.
func RunISR(handler func(ic *InterruptContext)) bool {
	id := CurrentTaskID()
	ic := &InterruptContext{}

	v, _ := inISR.LoadOrStore(id, &isrFrame{})
	frame := v.(*isrFrame)
	outer := frame.ic
	frame.depth++
	frame.ic = ic
	defer func() {
		frame.depth--
		frame.ic = outer
		if frame.depth == 0 {
			inISR.Delete(id)
		}
	}()

	handler(ic)

	if ic.switchRequested {
		runtime.Gosched()
	}
	return ic.switchRequested
}

// InsideInterrupt reports whether the calling goroutine is currently running
// a RunISR handler.
func InsideInterrupt() bool {
	_, ok := inISR.Load(CurrentTaskID())
	return ok
}

// CurrentInterrupt returns the context of the innermost handler running on
// the calling goroutine, or nil outside interrupt context. It lets code that
// may be reached from either context pick the interrupt-safe variant.
func CurrentInterrupt() *InterruptContext {
	v, ok := inISR.Load(CurrentTaskID())
	if !ok {
		return nil
	}
	return v.(*isrFrame).ic
}
