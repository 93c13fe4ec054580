package sysarch

import (
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Thread is a named task started by Arch.NewThread.
type Thread struct {
	name  string
	id    uint64
	ready chan struct{}
	done  chan struct{}
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// ID returns the task ID of the thread. It blocks until the thread has
// started.
func (t *Thread) ID() uint64 {
	<-t.ready
	return t.id
}

// Done is closed when the thread function returns.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Wait blocks until the thread function returns.
func (t *Thread) Wait() { <-t.done }

func startThread(name string, fn func()) *Thread {
	t := &Thread{
		name:  name,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		t.id = sysarch.CurrentTaskID()
		close(t.ready)
		logging.Debug(logging.ComponentSysArch, "thread started", "name", name, "task", t.id)
		fn()
		logging.Debug(logging.ComponentSysArch, "thread exited", "name", name, "task", t.id)
	}()
	return t
}
