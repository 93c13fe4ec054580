package netif

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/ipstack"
)

// ErrAddressTableFull is returned when no unicast slot is free.
var ErrAddressTableFull = errors.New("address table full")

// LinkLocalSlot is the slot reserved for the link-local address.
const LinkLocalSlot = 0

// AddressSlot is one interface address and its state.
type AddressSlot struct {
	Addr  netip.Addr
	State ipstack.AddrState
}

// AddressTable holds the unicast addresses of the mesh interface. Slot 0 is
// the link-local address; the rest are filled in order. A slot whose state
// is AddrInvalid is free for reuse. It is safe for concurrent use.
type AddressTable struct {
	mu    sync.RWMutex
	slots []AddressSlot
}

// NewAddressTable creates a table with n slots (at least one).
func NewAddressTable(n int) *AddressTable {
	if n < 1 {
		n = 1
	}
	return &AddressTable{slots: make([]AddressSlot, n)}
}

// SetLinkLocal stores addr in the link-local slot.
func (t *AddressTable) SetLinkLocal(addr netip.Addr, state ipstack.AddrState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[LinkLocalSlot] = AddressSlot{Addr: addr, State: state}
}

// Add stores addr in a free unicast slot and returns its index. Adding an
// address that is already present returns its existing slot.
func (t *AddressTable) Add(addr netip.Addr, state ipstack.AddrState) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	free := -1
	for i := LinkLocalSlot + 1; i < len(t.slots); i++ {
		s := t.slots[i]
		if s.State != ipstack.AddrInvalid && s.Addr == addr {
			t.slots[i].State = state
			return i, nil
		}
		if free == -1 && s.State == ipstack.AddrInvalid {
			free = i
		}
	}
	if free == -1 {
		return -1, ErrAddressTableFull
	}
	t.slots[free] = AddressSlot{Addr: addr, State: state}
	return free, nil
}

// Find returns the slot holding addr, or -1.
func (t *AddressTable) Find(addr netip.Addr) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.slots {
		if s.State != ipstack.AddrInvalid && s.Addr == addr {
			return i
		}
	}
	return -1
}

// Invalidate marks the slot holding addr invalid. It reports whether addr
// was present.
func (t *AddressTable) Invalidate(addr netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s.State != ipstack.AddrInvalid && s.Addr == addr {
			t.slots[i].State = ipstack.AddrInvalid
			return true
		}
	}
	return false
}

// Slots returns a copy of all slots.
func (t *AddressTable) Slots() []AddressSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AddressSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Active returns the addresses that are not invalid, in slot order.
func (t *AddressTable) Active() []AddressSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []AddressSlot
	for _, s := range t.slots {
		if s.State != ipstack.AddrInvalid {
			out = append(out, s)
		}
	}
	return out
}
