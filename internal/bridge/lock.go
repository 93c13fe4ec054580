package bridge

import (
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Lock gives the caller exclusive access to the mesh stack. On the worker it
// does nothing, since the worker already owns the stack.
func (b *Bridge) Lock() {
	if b.IsWorker() {
		return
	}
	b.lock.Lock()
}

// Unlock releases access taken with Lock and wakes the worker so it can act
// on whatever the caller changed. On the worker it does nothing.
func (b *Bridge) Unlock() {
	if b.IsWorker() {
		return
	}
	b.lock.Unlock()
	b.notification.Give()
}

// Call runs fn with exclusive access to the mesh stack.
func (b *Bridge) Call(fn func(stack mesh.Stack)) {
	b.Lock()
	defer b.Unlock()
	fn(b.stack)
}

// Notify wakes the worker. Several notifications before the worker wakes
// collapse into one.
func (b *Bridge) Notify() {
	b.notification.Give()
}

// NotifyFromISR wakes the worker from interrupt context.
func (b *Bridge) NotifyFromISR(ic *sysarch.InterruptContext) {
	b.notification.GiveFromISR(ic)
}

// SignalTasklets is the stack's "tasklets pending" hook. It may be called
// from a task or from inside an interrupt handler.
func (b *Bridge) SignalTasklets() {
	if ic := sysarch.CurrentInterrupt(); ic != nil {
		b.NotifyFromISR(ic)
		return
	}
	b.Notify()
}

var (
	_ sysarch.Notifier      = (*Bridge)(nil)
	_ mesh.TaskletsSignaler = (*Bridge)(nil)
)
