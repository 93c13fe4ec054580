// Package bridge runs the mesh stack on a single worker task and serializes
// every other task's access to it.
//
// The worker owns the mesh stack. Each iteration it processes tasklets,
// releases the bridge lock and sleeps until notified, polls the platform
// unlocked, re-takes the lock, lets the platform deliver driver events, and
// drains the outbound packet queue into the stack. Other tasks reach the
// stack by taking the lock, which they can only get while the worker is
// asleep or polling; releasing it wakes the worker.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/netif"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	pkgsysarch "github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

var (
	// ErrAlreadyStarted is returned by Start on a bridge that has run
	ErrAlreadyStarted = errors.New("bridge already started")
	// ErrNotStarted is returned by Stop on a bridge that never started
	ErrNotStarted = errors.New("bridge not started")
)

// State is the worker lifecycle state.
type State int32

// Worker lifecycle states.
const (
	StateInit State = iota
	StateRunning
	StateFinalizing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Phase is a step of one worker iteration.
type Phase int

// Worker iteration phases, in order.
const (
	PhaseProcessInternal Phase = iota
	PhaseYieldLock
	PhasePollPlatform
	PhaseReacquireLock
	PhaseDrainQueue
)

func (p Phase) String() string {
	switch p {
	case PhaseProcessInternal:
		return "process-internal"
	case PhaseYieldLock:
		return "yield-lock"
	case PhasePollPlatform:
		return "poll-platform"
	case PhaseReacquireLock:
		return "reacquire-lock"
	case PhaseDrainQueue:
		return "drain-queue"
	default:
		return "unknown"
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRecorder journals dropped sends to rec.
func WithRecorder(rec diag.Recorder) Option {
	return func(b *Bridge) { b.rec = rec }
}

// WithPhaseHook calls fn on the worker at the start of every phase.
func WithPhaseHook(fn func(Phase)) Option {
	return func(b *Bridge) { b.onPhase = fn }
}

// Bridge runs a mesh stack on a dedicated worker task.
type Bridge struct {
	config   *Config
	stack    mesh.Stack
	platform mesh.Platform
	queue    *netif.OutputQueue
	rec      diag.Recorder
	onPhase  func(Phase)

	lock         sysarch.Mutex
	notification *sysarch.Notification

	workerID atomic.Uint64
	state    atomic.Int32
	stopping atomic.Bool
	done     chan struct{}

	iterations   atomic.Uint64
	packetsSent  atomic.Uint64
	sendFailures atomic.Uint64
}

// New creates a bridge for stack and platform. It does not start the
// worker; call Start.
func New(config *Config, stack mesh.Stack, platform mesh.Platform, opts ...Option) (*Bridge, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if stack == nil {
		return nil, fmt.Errorf("stack cannot be nil")
	}
	if platform == nil {
		return nil, fmt.Errorf("platform cannot be nil")
	}

	b := &Bridge{
		config:       config,
		stack:        stack,
		platform:     platform,
		notification: sysarch.NewNotification(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rec == nil {
		b.rec = discard{}
	}
	return b, nil
}

// SetOutputQueue sets the queue drained by the worker. It must be called
// before Start.
func (b *Bridge) SetOutputQueue(q *netif.OutputQueue) {
	b.queue = q
}

// Start launches the worker. It returns once the worker owns the stack.
func (b *Bridge) Start() error {
	if !b.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	ready := make(chan struct{})
	go b.run(ready)
	<-ready

	logging.Info(logging.ComponentBridge, "worker started",
		"bridge", b.config.Name, "task", b.workerID.Load())
	return nil
}

// Stop asks the worker to finalize the stack and waits for it to exit or
// for ctx to end.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.State() == StateInit {
		return ErrNotStarted
	}
	b.stopping.Store(true)
	b.Notify()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the bridge within the configured stop timeout. It is
// idempotent and a no-op on a bridge that never started.
func (b *Bridge) Close() error {
	if b.State() == StateInit {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.config.StopTimeout)
	defer cancel()
	return b.Stop(ctx)
}

// Done is closed once the worker has terminated.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// State returns the worker lifecycle state.
func (b *Bridge) State() State { return State(b.state.Load()) }

// Name returns the configured bridge name.
func (b *Bridge) Name() string { return b.config.Name }

// IsWorker reports whether the caller is the worker task.
func (b *Bridge) IsWorker() bool {
	id := b.workerID.Load()
	return id != 0 && id == pkgsysarch.CurrentTaskID()
}

func (b *Bridge) run(ready chan<- struct{}) {
	defer close(b.done)

	b.workerID.Store(pkgsysarch.CurrentTaskID())
	b.lock.Lock()
	close(ready)

	for !b.stopping.Load() && !b.platform.PseudoResetRequested() {
		b.enter(PhaseProcessInternal)
		b.stack.ProcessTasklets()

		b.enter(PhaseYieldLock)
		b.lock.Unlock()
		b.notification.Take(b.config.PollTimeout)

		b.enter(PhasePollPlatform)
		b.platform.Poll()

		b.enter(PhaseReacquireLock)
		b.lock.Lock()
		b.platform.Process(b.stack)

		b.enter(PhaseDrainQueue)
		b.drainQueue()

		b.iterations.Add(1)
	}

	b.state.Store(int32(StateFinalizing))
	reason := "stop"
	if !b.stopping.Load() {
		reason = "pseudo-reset"
	}
	logging.Info(logging.ComponentBridge, "worker finalizing", "bridge", b.config.Name, "reason", reason)
	b.stack.Finalize()
	b.lock.Unlock()
	b.state.Store(int32(StateTerminated))
	logging.Info(logging.ComponentBridge, "worker terminated",
		"bridge", b.config.Name, "iterations", b.iterations.Load())
}

func (b *Bridge) enter(p Phase) {
	if b.onPhase != nil {
		b.onPhase(p)
	}
}

// drainQueue hands queued packets to the stack until the queue is empty or
// a send fails. A failed packet is dropped.
func (b *Bridge) drainQueue() {
	if b.queue == nil {
		return
	}

	for {
		ev, ok := b.queue.DrainOne()
		if !ok {
			break
		}
		err := b.transmit(ev.Payload())
		length := ev.Len()
		b.queue.Free(ev)
		if err != nil {
			b.sendFailures.Add(1)
			logging.Warn(logging.ComponentBridge, "failed to transmit IPv6 packet",
				"bridge", b.config.Name, "length", length, "error", err)
			b.rec.Record(diag.KindSendFailed, "outbound packet dropped", map[string]string{
				"bridge": b.config.Name,
				"length": strconv.Itoa(length),
				"error":  err.Error(),
			})
			break
		}
		b.packetsSent.Add(1)
	}

	if b.queue.Len() > 0 {
		b.notification.Give()
	}
}

func (b *Bridge) transmit(payload []byte) error {
	msg, err := b.stack.NewMessage()
	if err != nil {
		return fmt.Errorf("new message: %w", err)
	}
	if err := msg.Append(payload); err != nil {
		msg.Free()
		return fmt.Errorf("append payload: %w", err)
	}
	// The stack owns msg from here on, even on failure.
	if err := b.stack.Send(msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// HealthStatus represents the health of a bridge
type HealthStatus struct {
	// Healthy indicates whether the worker is running
	Healthy bool

	// State is the worker lifecycle state
	State State

	// Iterations is the number of completed worker iterations
	Iterations uint64

	// PacketsSent is the number of outbound packets handed to the stack
	PacketsSent uint64

	// SendFailures is the number of outbound packets dropped
	SendFailures uint64

	// QueueDepth is the number of packets waiting in the output queue
	QueueDepth int

	// Message provides additional health information
	Message string
}

// Health returns the current health of the bridge.
func (b *Bridge) Health() HealthStatus {
	state := b.State()
	h := HealthStatus{
		Healthy:      state == StateRunning,
		State:        state,
		Iterations:   b.iterations.Load(),
		PacketsSent:  b.packetsSent.Load(),
		SendFailures: b.sendFailures.Load(),
	}
	if b.queue != nil {
		h.QueueDepth = b.queue.Len()
	}
	if h.Healthy {
		h.Message = "worker running"
	} else {
		h.Message = "worker " + state.String()
	}
	return h
}

type discard struct{}

func (discard) Record(diag.Kind, string, map[string]string) {}
