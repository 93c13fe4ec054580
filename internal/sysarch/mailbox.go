package sysarch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// poison is posted exactly once by Destroy to wake a blocked consumer. It is
// unexported so no producer can forge it.
type poison struct{}

// Mailbox is a bounded FIFO of opaque messages. Consumers hold the consumer
// lock for the whole of a Fetch, which is how Destroy detects an active
// waiter.
type Mailbox struct {
	name     string
	capacity int
	ch       chan any

	consumer sync.Mutex
	alive    atomic.Bool
	done     chan struct{}

	cfg    MailboxConfig
	alloc  sysarch.Allocator
	charge int

	reclaimed atomic.Bool
	leaked    atomic.Bool
}

func newMailbox(name string, capacity int, cfg MailboxConfig, alloc sysarch.Allocator, charge int) *Mailbox {
	m := &Mailbox{
		name:     name,
		capacity: capacity,
		ch:       make(chan any, capacity),
		done:     make(chan struct{}),
		cfg:      cfg,
		alloc:    alloc,
		charge:   charge,
	}
	m.alive.Store(true)
	return m
}

// Name returns the mailbox name used in logs and leak events.
func (m *Mailbox) Name() string { return m.name }

// Capacity returns the number of messages the mailbox can buffer.
func (m *Mailbox) Capacity() int { return m.capacity }

// Len returns the number of buffered messages.
func (m *Mailbox) Len() int { return len(m.ch) }

// Alive reports whether Destroy has not yet been called.
func (m *Mailbox) Alive() bool { return m.alive.Load() }

// Reclaimed reports whether teardown released the mailbox storage.
func (m *Mailbox) Reclaimed() bool { return m.reclaimed.Load() }

// Leaked reports whether teardown gave up and kept the storage alive.
func (m *Mailbox) Leaked() bool { return m.leaked.Load() }

// Post blocks until msg is enqueued or the mailbox is destroyed. A post
// that lands after Destroy has begun reports ErrDestroyed; teardown drains
// the message instead of delivering it.
func (m *Mailbox) Post(msg any) error {
	if msg == nil {
		return sysarch.ErrNilMessage
	}
	if !m.alive.Load() {
		return sysarch.ErrDestroyed
	}
	select {
	case m.ch <- msg:
		return m.posted()
	case <-m.done:
		return sysarch.ErrDestroyed
	}
}

// TryPost enqueues msg if there is room.
func (m *Mailbox) TryPost(msg any) error {
	if msg == nil {
		return sysarch.ErrNilMessage
	}
	if !m.alive.Load() {
		return sysarch.ErrDestroyed
	}
	select {
	case m.ch <- msg:
		return m.posted()
	default:
		return sysarch.ErrFull
	}
}

// TryPostFromISR is TryPost for interrupt context. A successful post
// requests a task switch on ic.
func (m *Mailbox) TryPostFromISR(ic *sysarch.InterruptContext, msg any) error {
	if msg == nil {
		return sysarch.ErrNilMessage
	}
	if !m.alive.Load() {
		return sysarch.ErrDestroyed
	}
	select {
	case m.ch <- msg:
		if err := m.posted(); err != nil {
			return err
		}
		ic.RequestSwitch()
		return nil
	default:
		return sysarch.ErrFull
	}
}

// posted checks liveness after a send. Destroy may have closed done while
// the send was still selectable.
func (m *Mailbox) posted() error {
	if !m.alive.Load() {
		return sysarch.ErrDestroyed
	}
	return nil
}

// Fetch waits up to timeout (0 waits forever) for a message.
func (m *Mailbox) Fetch(timeout time.Duration) (any, time.Duration, error) {
	start := time.Now()

	m.consumer.Lock()
	defer m.consumer.Unlock()

	if !m.alive.Load() {
		return nil, time.Since(start), sysarch.ErrDestroyed
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case msg := <-m.ch:
		if _, ok := msg.(poison); ok || !m.alive.Load() {
			// Terminal. Destroy is polling for the consumer lock.
			return nil, time.Since(start), sysarch.ErrDestroyed
		}
		return msg, time.Since(start), nil
	case <-deadline:
		return nil, time.Since(start), sysarch.ErrTimeout
	}
}

// TryFetch returns the head message without waiting. It reports ErrEmpty
// when another consumer is already waiting in Fetch.
func (m *Mailbox) TryFetch() (any, error) {
	if !m.consumer.TryLock() {
		return nil, sysarch.ErrEmpty
	}
	defer m.consumer.Unlock()

	if !m.alive.Load() {
		return nil, sysarch.ErrDestroyed
	}
	select {
	case msg := <-m.ch:
		if _, ok := msg.(poison); ok || !m.alive.Load() {
			return nil, sysarch.ErrDestroyed
		}
		return msg, nil
	default:
		return nil, sysarch.ErrEmpty
	}
}

// Destroy tears the mailbox down. It wakes a blocked consumer with a single
// poison message and waits, within the configured retry budget, for the
// consumer lock to become free before reclaiming storage. If the budget runs
// out the storage is leaked and a LeakEvent is emitted.
func (m *Mailbox) Destroy() {
	if !m.alive.CompareAndSwap(true, false) {
		logging.Debug(logging.ComponentMailbox, "destroy called twice", "mailbox", m.name)
		return
	}
	close(m.done)

	start := time.Now()
	posted := false
	for attempt := 1; attempt <= m.cfg.RetryBudget; attempt++ {
		if m.consumer.TryLock() {
			m.reclaim()
			m.consumer.Unlock()
			logging.Debug(logging.ComponentMailbox, "mailbox destroyed",
				"mailbox", m.name, "attempts", attempt, "waited", time.Since(start))
			return
		}
		if !posted {
			select {
			case m.ch <- poison{}:
				posted = true
			default:
			}
		}
		time.Sleep(m.cfg.PollInterval)
	}

	m.leaked.Store(true)
	ev := sysarch.LeakEvent{
		Name:     m.name,
		Capacity: m.capacity,
		Pending:  len(m.ch),
		Attempts: m.cfg.RetryBudget,
		Waited:   time.Since(start),
		Time:     time.Now(),
	}
	logging.Warn(logging.ComponentMailbox, "mailbox leaked: consumer never released",
		"mailbox", ev.Name, "capacity", ev.Capacity, "pending", ev.Pending,
		"attempts", ev.Attempts, "waited", ev.Waited)
	if m.cfg.OnLeak != nil {
		m.cfg.OnLeak(ev)
	}
}

// reclaim drains remaining messages and returns the allocator charge.
// Caller holds the consumer lock.
func (m *Mailbox) reclaim() {
drain:
	for {
		select {
		case <-m.ch:
		default:
			break drain
		}
	}
	if m.alloc != nil {
		m.alloc.Release(m.charge)
	}
	m.reclaimed.Store(true)
}

var _ sysarch.Mailbox = (*Mailbox)(nil)
