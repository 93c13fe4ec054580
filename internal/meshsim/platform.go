package meshsim

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	pkgsysarch "github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// DefaultReceiveDepth is the number of radio frames buffered between the
// receive interrupt and the worker.
const DefaultReceiveDepth = 16

// FrameReceiver is implemented by stacks that accept radio frames.
type FrameReceiver interface {
	DeliverFrame(frame []byte)
}

// Platform is the simulated board layer. Radio frames arrive on a driver
// task, are posted to a mailbox from interrupt context and handed to the
// stack on the worker.
type Platform struct {
	rx       *sysarch.Mailbox
	notifier pkgsysarch.Notifier

	reset    atomic.Bool
	polls    atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewPlatform creates a platform whose receive mailbox holds depth frames.
// notifier wakes the worker when a frame arrives.
func NewPlatform(arch *sysarch.Arch, depth int, notifier pkgsysarch.Notifier) (*Platform, error) {
	if depth <= 0 {
		depth = DefaultReceiveDepth
	}
	rx, err := arch.NewNamedMailbox("radio-rx", depth)
	if err != nil {
		return nil, fmt.Errorf("create receive mailbox: %w", err)
	}
	return &Platform{rx: rx, notifier: notifier}, nil
}

// SetNotifier replaces the worker notifier. It must be called before any
// frame is received.
func (p *Platform) SetNotifier(n pkgsysarch.Notifier) {
	p.notifier = n
}

// ReceiveFromRadio is the radio receive-done interrupt. The frame is not
// copied; the caller must not reuse it.
func (p *Platform) ReceiveFromRadio(frame []byte) {
	pkgsysarch.RunISR(func(ic *pkgsysarch.InterruptContext) {
		if err := p.rx.TryPostFromISR(ic, frame); err != nil {
			p.dropped.Add(1)
			return
		}
		p.received.Add(1)
		if p.notifier != nil {
			p.notifier.NotifyFromISR(ic)
		}
	})
}

// Poll services drivers. The simulated drivers have no polled state.
func (p *Platform) Poll() {
	p.polls.Add(1)
}

// Process hands buffered radio frames to stack.
func (p *Platform) Process(stack mesh.Stack) {
	recv, ok := stack.(FrameReceiver)
	for {
		msg, err := p.rx.TryFetch()
		if err != nil {
			if !errors.Is(err, pkgsysarch.ErrEmpty) && !errors.Is(err, pkgsysarch.ErrDestroyed) {
				logging.Warn(logging.ComponentMeshSim, "radio receive failed", "error", err)
			}
			return
		}
		if ok {
			recv.DeliverFrame(msg.([]byte))
		}
	}
}

// RequestReset asks the worker to exit, as a pseudo reset would.
func (p *Platform) RequestReset() {
	p.reset.Store(true)
	if p.notifier != nil {
		p.notifier.Notify()
	}
}

// PseudoResetRequested reports whether RequestReset was called.
func (p *Platform) PseudoResetRequested() bool { return p.reset.Load() }

// Stats returns polled iterations, frames received and frames dropped
// because the receive mailbox was full.
func (p *Platform) Stats() (polls, received, dropped uint64) {
	return p.polls.Load(), p.received.Load(), p.dropped.Load()
}

// Close tears down the receive mailbox. The worker must have exited.
func (p *Platform) Close() error {
	p.rx.Destroy()
	return nil
}

var _ mesh.Platform = (*Platform)(nil)
