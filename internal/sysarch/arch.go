// Package sysarch implements the synchronization substrate shared by the
// mesh and IP stacks: mailboxes, semaphores, notifications, the protected
// critical section, an uptime clock and a metered allocator.
package sysarch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// SemaphoreOverhead is charged per semaphore created through Arch.
const SemaphoreOverhead = 32

// Arch is the system architecture context. Create one per process (tests
// may create several).
type Arch struct {
	config Config
	heap   *Heap
	start  time.Time

	mailboxSeq atomic.Uint64

	protectMu    sync.Mutex
	protectOwner atomic.Uint64
	protectDepth int
}

// New creates an Arch from cfg. Unset fields take their defaults.
func New(cfg Config) (*Arch, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arch config: %w", err)
	}
	return &Arch{
		config: cfg,
		heap:   NewHeap(cfg.HeapLimit),
		start:  time.Now(),
	}, nil
}

// Config returns the effective configuration.
func (a *Arch) Config() Config { return a.config }

// Allocator returns the arch heap.
func (a *Arch) Allocator() *Heap { return a.heap }

// Now returns the time since the arch was created.
func (a *Arch) Now() time.Duration {
	return time.Since(a.start)
}

// NowMillis returns the uptime in milliseconds, wrapping at 2^32.
func (a *Arch) NowMillis() uint32 {
	return uint32(a.Now().Milliseconds())
}

// NewMailbox creates a mailbox holding up to capacity messages. A capacity
// of zero creates a rendezvous mailbox.
func (a *Arch) NewMailbox(capacity int) (*Mailbox, error) {
	name := fmt.Sprintf("mbox-%d", a.mailboxSeq.Add(1))
	return a.NewNamedMailbox(name, capacity)
}

// NewNamedMailbox is NewMailbox with an explicit name for logs and leak
// events.
func (a *Arch) NewNamedMailbox(name string, capacity int) (*Mailbox, error) {
	if capacity < 0 {
		return nil, sysarch.ErrInvalidParameter
	}
	charge := capacity*MessageSlotSize + MailboxOverhead
	if err := a.heap.Reserve(charge); err != nil {
		return nil, fmt.Errorf("allocate mailbox %s: %w", name, err)
	}
	return newMailbox(name, capacity, a.config.Mailbox, a.heap, charge), nil
}

// NewSemaphore creates a counting semaphore.
func (a *Arch) NewSemaphore(maxCount, initial int) (*Semaphore, error) {
	if err := a.heap.Reserve(SemaphoreOverhead); err != nil {
		return nil, fmt.Errorf("allocate semaphore: %w", err)
	}
	s, err := NewCountingSemaphore(maxCount, initial)
	if err != nil {
		a.heap.Release(SemaphoreOverhead)
		return nil, err
	}
	return s, nil
}

// NewThread starts fn on a new named task.
func (a *Arch) NewThread(name string, fn func()) *Thread {
	return startThread(name, fn)
}

// Protect enters the global critical section. It may be nested by the same
// task and returns the resulting nesting depth.
func (a *Arch) Protect() int {
	id := sysarch.CurrentTaskID()
	if a.protectOwner.Load() == id {
		a.protectDepth++
		return a.protectDepth
	}
	a.protectMu.Lock()
	a.protectOwner.Store(id)
	a.protectDepth = 1
	return 1
}

// Unprotect leaves one level of the critical section. Calls from a task
// that does not hold it are ignored.
func (a *Arch) Unprotect() {
	if a.protectOwner.Load() != sysarch.CurrentTaskID() {
		return
	}
	a.protectDepth--
	if a.protectDepth == 0 {
		a.protectOwner.Store(0)
		a.protectMu.Unlock()
	}
}
