package meshsim

import (
	"sync"
)

// Receiver accepts frames from a radio.
type Receiver interface {
	ReceiveFromRadio(frame []byte)
}

// Loopback is an in-process radio medium. Every frame transmitted by one
// attached radio is received by all the others.
type Loopback struct {
	mu    sync.RWMutex
	ports []*loopbackPort
}

// NewLoopback creates an empty medium.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Attach connects rx to the medium and returns the radio it transmits on.
func (l *Loopback) Attach(rx Receiver) Radio {
	port := &loopbackPort{medium: l, rx: rx}
	l.mu.Lock()
	l.ports = append(l.ports, port)
	l.mu.Unlock()
	return port
}

type loopbackPort struct {
	medium *Loopback
	rx     Receiver
}

func (p *loopbackPort) Transmit(frame []byte) error {
	p.medium.mu.RLock()
	defer p.medium.mu.RUnlock()

	for _, peer := range p.medium.ports {
		if peer == p {
			continue
		}
		peer.rx.ReceiveFromRadio(append([]byte(nil), frame...))
	}
	return nil
}
