package sysarch

import (
	"time"
)

// Allocator meters memory handed out to mailboxes and queue nodes so that
// exhaustion is observable instead of fatal.
type Allocator interface {
	// Reserve charges n bytes. It returns ErrNoMemory when the charge would
	// exceed the allocator's limit; nothing is charged in that case.
	Reserve(n int) error

	// Release returns n previously reserved bytes.
	Release(n int)

	// InUse returns the number of bytes currently reserved.
	InUse() int
}

// ISRPoster is implemented by primitives that accept messages from
// interrupt context. Implementations never block and never allocate.
type ISRPoster interface {
	// TryPostFromISR attempts a single non-blocking post. Any task switch the
	// delivery implies is recorded on ic and performed by RunISR's epilogue.
	TryPostFromISR(ic *InterruptContext, msg any) error
}

// ISRGiver is implemented by primitives that can be signalled from interrupt
// context.
type ISRGiver interface {
	GiveFromISR(ic *InterruptContext)
}

// Mailbox is a bounded FIFO of opaque messages with blocking, non-blocking
// and interrupt-safe producers and a teardown protocol that never frees
// storage out from under a blocked consumer.
type Mailbox interface {
	ISRPoster

	// Post blocks until msg is enqueued. It returns ErrDestroyed if the
	// mailbox is torn down while the producer waits.
	Post(msg any) error

	// TryPost makes one non-blocking attempt and returns ErrFull on failure.
	TryPost(msg any) error

	// Fetch waits up to timeout (0 waits forever) for a message and reports
	// how long it waited. It returns ErrTimeout when the bound expires and
	// ErrDestroyed, with a nil message, once teardown is observed.
	Fetch(timeout time.Duration) (msg any, elapsed time.Duration, err error)

	// TryFetch returns the head message or ErrEmpty.
	TryFetch() (any, error)

	// Destroy tears the mailbox down. Only the first call has any effect.
	Destroy()
}

// Semaphore is a binary or counting wait primitive.
type Semaphore interface {
	ISRGiver

	// Give increments the count, saturating at the maximum, and wakes one
	// waiter.
	Give()

	// Take waits up to timeout (0 waits forever) for the count to become
	// positive and decrements it. It returns the time spent waiting or
	// ErrTimeout.
	Take(timeout time.Duration) (time.Duration, error)

	// TryTake decrements the count if it is positive.
	TryTake() bool
}

// Notifier wakes a worker task. Raising it several times before the worker
// wakes has the same effect as raising it once.
type Notifier interface {
	Notify()
	NotifyFromISR(ic *InterruptContext)
}

// LeakEvent describes a mailbox whose consumer never released the consumer
// lock within the teardown retry budget. The mailbox storage is kept alive
// rather than reclaimed.
type LeakEvent struct {
	// Name identifies the mailbox in logs.
	Name string

	// Capacity is the mailbox capacity in messages.
	Capacity int

	// Pending is the number of messages still queued when teardown gave up.
	Pending int

	// Attempts is the number of poll attempts made.
	Attempts int

	// Waited is the total time teardown spent polling.
	Waited time.Duration

	// Time is when the leak was declared.
	Time time.Time
}
