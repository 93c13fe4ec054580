package netif

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldiag "github.com/rmacdonaldsmith/meshbridge-go/internal/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/ipstack"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	pkgsysarch "github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

type fakeIP struct {
	mu     sync.Mutex
	up     bool
	inputs [][]byte
	output ipstack.OutputFunc
	dns    netip.Addr
	err    error
}

func (f *fakeIP) Input(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inputs = append(f.inputs, append([]byte(nil), frame...))
	return nil
}
func (f *fakeIP) SetUp() { f.mu.Lock(); f.up = true; f.mu.Unlock() }
func (f *fakeIP) SetDown() { f.mu.Lock(); f.up = false; f.mu.Unlock() }
func (f *fakeIP) IsUp() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.up }
func (f *fakeIP) SetOutput(fn ipstack.OutputFunc) { f.output = fn }
func (f *fakeIP) SetDNSServer(addr netip.Addr) { f.dns = addr }

type fakeMessage struct {
	data  []byte
	freed bool
}

func (m *fakeMessage) Append(b []byte) error { m.data = append(m.data, b...); return nil }
func (m *fakeMessage) Len() int { return len(m.data) }
func (m *fakeMessage) Read(offset int, buf []byte) int {
	if offset >= len(m.data) {
		return 0
	}
	return copy(buf, m.data[offset:])
}
func (m *fakeMessage) Free() { m.freed = true }

// truncatingMessage reports a length but stops yielding bytes after limit.
type truncatingMessage struct {
	fakeMessage
	limit int
}

func (m *truncatingMessage) Read(offset int, buf []byte) int {
	if offset >= m.limit {
		return 0
	}
	end := min(m.limit, offset+len(buf))
	return copy(buf, m.data[offset:end])
}

type fakeStack struct {
	receive mesh.ReceiveFunc
	state   mesh.StateChangedFunc
	address mesh.AddressFunc
	link    bool
	prefix  netip.Prefix
}

func (s *fakeStack) NewMessage() (mesh.Message, error) { return &fakeMessage{}, nil }
func (s *fakeStack) Send(mesh.Message) error { return nil }
func (s *fakeStack) ProcessTasklets() {}
func (s *fakeStack) TaskletsPending() bool { return false }
func (s *fakeStack) SetReceiveCallback(fn mesh.ReceiveFunc) { s.receive = fn }
func (s *fakeStack) SetStateChangedCallback(fn mesh.StateChangedFunc) { s.state = fn }
func (s *fakeStack) SetAddressCallback(fn mesh.AddressFunc) { s.address = fn }
func (s *fakeStack) LinkEnabled() bool { return s.link }
func (s *fakeStack) MeshLocalPrefix() netip.Prefix { return s.prefix }
func (s *fakeStack) Finalize() {}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() { c.mu.Lock(); c.n++; c.mu.Unlock() }
func (c *countingNotifier) NotifyFromISR(*pkgsysarch.InterruptContext) {}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixture struct {
	arch     *sysarch.Arch
	ip       *fakeIP
	stack    *fakeStack
	notifier *countingNotifier
	journal  *internaldiag.InMemoryJournal
	netif    *Netif
}

func newFixture(t *testing.T, heapLimit int) *fixture {
	t.Helper()
	arch, err := sysarch.New(sysarch.Config{HeapLimit: heapLimit})
	require.NoError(t, err)

	f := &fixture{
		arch:     arch,
		ip:       &fakeIP{},
		stack:    &fakeStack{prefix: netip.MustParsePrefix("fd00:db8::/64")},
		notifier: &countingNotifier{},
		journal:  internaldiag.NewInMemoryJournal(0),
	}
	f.netif, err = New(Config{}, f.ip, arch, arch.Allocator(), f.notifier, f.journal)
	require.NoError(t, err)
	f.netif.Attach(f.stack)
	return f
}

func TestNetif_AttachWiresCallbacks(t *testing.T) {
	f := newFixture(t, 0)

	assert.NotNil(t, f.stack.receive)
	assert.NotNil(t, f.stack.state)
	assert.NotNil(t, f.stack.address)
	require.NotNil(t, f.ip.output)
	assert.Equal(t, DefaultDNSServer, f.ip.dns)

	require.NoError(t, f.ip.output([]byte{1, 2, 3}))
	assert.Equal(t, 1, f.netif.Queue().Len())
	assert.Equal(t, 1, f.notifier.count())
}

func TestNetif_ReceiveCopiesInBlocks(t *testing.T) {
	f := newFixture(t, 0)

	payload := bytes.Repeat([]byte{0xab, 0xcd, 0xef}, 100) // 300 bytes, three blocks
	msg := &fakeMessage{data: payload}
	f.stack.receive(msg)

	require.Len(t, f.ip.inputs, 1)
	assert.Equal(t, payload, f.ip.inputs[0])
	assert.True(t, msg.freed)
	assert.Equal(t, 0, f.arch.Allocator().InUse(), "frame charge released")
}

func TestNetif_ReceiveFailureIsJournaled(t *testing.T) {
	f := newFixture(t, 0)
	f.ip.err = errors.New("ip stack rejected frame")

	msg := &fakeMessage{data: []byte{1, 2, 3}}
	f.stack.receive(msg)

	assert.True(t, msg.freed, "message is freed even on failure")
	entries, err := f.journal.Read(context.Background(), diag.KindReceiveFailed, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].Attrs["length"])
}

func TestNetif_ReceiveShortReadDropsFrame(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		limit int
	}{
		{"short first block", 64, 40},
		{"short middle block", 300, 200},
		{"short final block", 300, 299},
		{"nothing readable", 16, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			msg := &truncatingMessage{fakeMessage: fakeMessage{data: make([]byte, tt.size)}, limit: tt.limit}

			f.stack.receive(msg)

			if len(f.ip.inputs) != 0 {
				t.Fatalf("truncated frame reached the IP stack: %d inputs", len(f.ip.inputs))
			}
			if !msg.freed {
				t.Fatal("message was not freed")
			}
			entries, err := f.journal.Read(context.Background(), diag.KindReceiveFailed, 0, 10)
			if err != nil {
				t.Fatalf("read journal: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("expected 1 receive failure, got %d", len(entries))
			}
			if got := entries[0].Attrs["error"]; !strings.Contains(got, ErrShortRead.Error()) {
				t.Fatalf("journal error %q does not mention a short read", got)
			}
			if inUse := f.arch.Allocator().InUse(); inUse != 0 {
				t.Fatalf("frame charge not released: %d bytes in use", inUse)
			}
		})
	}
}

func TestNetif_ResolverUsesConfiguredPrefix(t *testing.T) {
	arch, err := sysarch.New(sysarch.Config{})
	if err != nil {
		t.Fatalf("new arch: %v", err)
	}
	prefix := netip.MustParsePrefix("fd00:64::/96")

	n, err := New(Config{NAT64Prefix: prefix}, &fakeIP{}, arch, arch.Allocator(), &countingNotifier{}, nil)
	if err != nil {
		t.Fatalf("new netif: %v", err)
	}
	if got := n.Resolver().Prefix(); got != prefix {
		t.Fatalf("resolver prefix = %s, want %s", got, prefix)
	}

	addr, err := n.Resolver().LookupNAT64(context.Background(), "192.0.2.33")
	if err != nil {
		t.Fatalf("lookup literal: %v", err)
	}
	if want := netip.MustParseAddr("fd00:64::c000:221"); addr != want {
		t.Fatalf("synthesized %s, want %s", addr, want)
	}
}

func TestNetif_ResolverDefaultsToWellKnownPrefix(t *testing.T) {
	f := newFixture(t, 0)
	if got := f.netif.Resolver().Prefix(); got != nat64.WellKnownPrefix {
		t.Fatalf("resolver prefix = %s, want %s", got, nat64.WellKnownPrefix)
	}
}

func TestNetif_ReceiveOutOfMemory(t *testing.T) {
	f := newFixture(t, 16)

	msg := &fakeMessage{data: make([]byte, 64)}
	f.stack.receive(msg)

	assert.Empty(t, f.ip.inputs)
	assert.True(t, msg.freed)
	end, err := f.journal.EndOffset(context.Background(), diag.KindReceiveFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), end)
}

func TestNetif_StateChange(t *testing.T) {
	f := newFixture(t, 0)

	f.stack.link = true
	f.stack.state(mesh.ChangedNetifState)
	assert.True(t, f.ip.IsUp())

	f.stack.link = false
	f.stack.state(mesh.ChangedRole)
	assert.True(t, f.ip.IsUp(), "unrelated flags leave the interface alone")

	f.stack.state(mesh.ChangedNetifState | mesh.ChangedRole)
	assert.False(t, f.ip.IsUp())
}

func TestNetif_AddressRules(t *testing.T) {
	f := newFixture(t, 0)

	linkLocal := netip.MustParseAddr("fe80::1")
	meshLocal := netip.MustParseAddr("fd00:db8::10")
	global := netip.MustParseAddr("2001:db8::10")
	multicast := netip.MustParseAddr("ff03::fc")

	f.stack.address(mesh.AddressInfo{Address: multicast, PrefixLength: mesh.MulticastPrefixLength}, true)
	f.stack.address(mesh.AddressInfo{Address: linkLocal, PrefixLength: 64}, true)
	f.stack.address(mesh.AddressInfo{Address: meshLocal, PrefixLength: 64}, true)
	f.stack.address(mesh.AddressInfo{Address: global, PrefixLength: 64}, true)

	slots := f.netif.Addresses().Slots()
	assert.Equal(t, AddressSlot{Addr: linkLocal, State: ipstack.AddrPreferred}, slots[LinkLocalSlot])
	assert.Equal(t, -1, f.netif.Addresses().Find(multicast), "multicast subscriptions are ignored")

	idx := f.netif.Addresses().Find(meshLocal)
	require.NotEqual(t, -1, idx)
	assert.Equal(t, ipstack.AddrValid, slots[idx].State)

	idx = f.netif.Addresses().Find(global)
	require.NotEqual(t, -1, idx)
	assert.Equal(t, ipstack.AddrPreferred, slots[idx].State)

	f.stack.address(mesh.AddressInfo{Address: global, PrefixLength: 64}, false)
	assert.Equal(t, -1, f.netif.Addresses().Find(global))
	assert.Equal(t, ipstack.AddrInvalid, f.netif.Addresses().Slots()[idx].State)
}

func TestAddressTable_Full(t *testing.T) {
	table := NewAddressTable(2)

	_, err := table.Add(netip.MustParseAddr("2001:db8::1"), ipstack.AddrPreferred)
	require.NoError(t, err)
	_, err = table.Add(netip.MustParseAddr("2001:db8::2"), ipstack.AddrPreferred)
	assert.ErrorIs(t, err, ErrAddressTableFull)

	idx, err := table.Add(netip.MustParseAddr("2001:db8::1"), ipstack.AddrValid)
	require.NoError(t, err, "re-adding updates in place")
	assert.Equal(t, 1, idx)
	assert.Len(t, table.Active(), 1)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"negative mtu", Config{MTU: -1, MaxAddresses: 1}, true},
		{"ipv4 dns", Config{MaxAddresses: 1, DNSServer: netip.MustParseAddr("8.8.8.8")}, true},
		{"short nat64 prefix", Config{MaxAddresses: 1, NAT64Prefix: netip.MustParsePrefix("64:ff9b::/64")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
