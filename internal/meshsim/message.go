package meshsim

import (
	"sync/atomic"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
)

// Message is a simulated mesh message buffer. Buffers come from a bounded
// pool owned by the stack.
type Message struct {
	data  []byte
	pool  *messagePool
	freed atomic.Bool
}

// Append copies b to the end of the message.
func (m *Message) Append(b []byte) error {
	if m.pool.maxLen > 0 && len(m.data)+len(b) > m.pool.maxLen {
		return mesh.ErrNoBufs
	}
	m.data = append(m.data, b...)
	return nil
}

// Len returns the message length.
func (m *Message) Len() int { return len(m.data) }

// Read copies message bytes starting at offset into buf.
func (m *Message) Read(offset int, buf []byte) int {
	if offset < 0 || offset >= len(m.data) {
		return 0
	}
	return copy(buf, m.data[offset:])
}

// Bytes returns the message contents.
func (m *Message) Bytes() []byte { return m.data }

// Free returns the buffer to the pool. Freeing twice is harmless.
func (m *Message) Free() {
	if m.freed.CompareAndSwap(false, true) {
		m.pool.inUse.Add(-1)
	}
}

type messagePool struct {
	max    int32
	maxLen int
	inUse  atomic.Int32
}

func (p *messagePool) get() (*Message, error) {
	if n := p.inUse.Add(1); p.max > 0 && n > p.max {
		p.inUse.Add(-1)
		return nil, mesh.ErrNoBufs
	}
	return &Message{pool: p}, nil
}

var _ mesh.Message = (*Message)(nil)
