package meshnode

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/netif"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	pkgsysarch "github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

func newTestNode(t *testing.T, id string, iid uint64, medium *meshsim.Loopback) *Node {
	t.Helper()
	config := NewConfig(id).
		WithStackConfig(meshsim.StackConfig{InterfaceID: iid}).
		WithArchConfig(sysarch.Config{Mailbox: sysarch.MailboxConfig{PollInterval: time.Millisecond}})
	node, err := New(config, LoopbackRadio(medium))
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	return node
}

func startNode(t *testing.T, node *Node) {
	t.Helper()
	require.NoError(t, node.Start(context.Background()))
	require.Eventually(t, node.InterfaceUp, 2*time.Second, time.Millisecond, "interface never came up")
}

func TestNew_Validation(t *testing.T) {
	medium := meshsim.NewLoopback()

	_, err := New(nil, LoopbackRadio(medium))
	assert.Error(t, err)

	_, err = New(NewConfig("node-1"), nil)
	assert.Error(t, err)

	_, err = New(NewConfig(""), LoopbackRadio(medium))
	assert.ErrorIs(t, err, ErrEmptyNodeID)

	_, err = New(NewConfig("node-1"), func(meshsim.Receiver) (meshsim.Radio, error) {
		return nil, errors.New("no radio")
	})
	assert.Error(t, err)
}

func TestNode_StartStopClose(t *testing.T) {
	node := newTestNode(t, "node-1", 1, meshsim.NewLoopback())
	ctx := context.Background()

	assert.ErrorIs(t, node.Send(ctx, []byte{1}), ErrNotRunning)

	startNode(t, node)
	assert.Equal(t, bridge.StateRunning, node.Bridge().State())
	assert.NoError(t, node.Start(ctx), "Start is idempotent")

	require.NoError(t, node.Stop(ctx))
	assert.Equal(t, bridge.StateTerminated, node.Bridge().State())
	assert.False(t, node.InterfaceUp())
	assert.NoError(t, node.Stop(ctx), "Stop is idempotent")
	assert.ErrorIs(t, node.Send(ctx, []byte{1}), ErrNotRunning)

	require.NoError(t, node.Close())
	assert.NoError(t, node.Close(), "Close is idempotent")
	assert.ErrorIs(t, node.Start(ctx), ErrClosed)
	assert.ErrorIs(t, node.Send(ctx, []byte{1}), ErrClosed)
}

func TestNode_CloseWithoutStart(t *testing.T) {
	node := newTestNode(t, "node-1", 1, meshsim.NewLoopback())
	assert.NoError(t, node.Close())
	assert.Equal(t, bridge.StateInit, node.Bridge().State())
}

func TestNode_InterfaceConfiguredOnAttach(t *testing.T) {
	node := newTestNode(t, "node-1", 0x10, meshsim.NewLoopback())
	startNode(t, node)

	assert.Equal(t, netif.DefaultDNSServer, node.DNSServer())
	require.Eventually(t, func() bool { return len(node.Addresses()) == 2 }, time.Second, time.Millisecond)

	addrs := node.Addresses()
	assert.Equal(t, netip.MustParseAddr("fe80::10"), addrs[0], "link-local holds slot 0")
	assert.Equal(t, node.MeshLocalEID(), addrs[1])
	assert.Equal(t, netip.MustParseAddr("fdde:ad00:beef::10"), addrs[1])
}

func TestNode_ResolverFollowsNetifPrefix(t *testing.T) {
	prefix := netip.MustParsePrefix("fd00:64::/96")
	config := NewConfig("node-1")
	config.Netif.NAT64Prefix = prefix

	node, err := New(config, LoopbackRadio(meshsim.NewLoopback()))
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer node.Close()

	if got := node.Resolver().Prefix(); got != prefix {
		t.Fatalf("resolver prefix = %s, want %s", got, prefix)
	}
}

func TestNode_GetHealth(t *testing.T) {
	node := newTestNode(t, "node-1", 1, meshsim.NewLoopback())
	ctx := context.Background()

	h, err := node.GetHealth(ctx)
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, "init", h.BridgeState)

	startNode(t, node)
	h, err = node.GetHealth(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy, h.Message)
	assert.True(t, h.InterfaceUp)
	assert.Equal(t, "running", h.BridgeState)
	assert.Positive(t, h.HeapInUse, "receive mailbox is charged to the heap")

	require.NoError(t, node.Stop(ctx))
	h, err = node.GetHealth(ctx)
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, "terminated", h.BridgeState)
}

// TestNode_TwoNodeExchange sends datagrams from one node to another over a
// shared loopback medium: host, output queue, worker, stack, radio, receive
// interrupt, peer worker, peer netif, peer host.
func TestNode_TwoNodeExchange(t *testing.T) {
	medium := meshsim.NewLoopback()
	nodeA := newTestNode(t, "node-a", 1, medium)
	nodeB := newTestNode(t, "node-b", 2, medium)
	startNode(t, nodeA)
	startNode(t, nodeB)

	ctx := context.Background()
	payloads := [][]byte{
		[]byte("first datagram"),
		make([]byte, 300), // spans several receive blocks
		[]byte("third"),
	}
	payloads[1][299] = 0xAB

	for _, p := range payloads {
		require.NoError(t, nodeA.Send(ctx, p))
	}

	for i, want := range payloads {
		select {
		case got := <-nodeB.Received():
			assert.Equal(t, want, got, "datagram %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("datagram %d never arrived", i)
		}
	}

	select {
	case got := <-nodeA.Received():
		t.Fatalf("sender received its own datagram: %q", got)
	default:
	}

	require.Eventually(t, func() bool {
		h, err := nodeA.GetHealth(ctx)
		return err == nil && h.PacketsSent == uint64(len(payloads)) && h.QueueDepth == 0
	}, time.Second, time.Millisecond)
	_, received, dropped := nodeB.Platform().Stats()
	assert.Equal(t, uint64(len(payloads)), received)
	assert.Zero(t, dropped)
}

func TestNode_DatagramTooLargeIsRefused(t *testing.T) {
	node := newTestNode(t, "node-1", 1, meshsim.NewLoopback())
	startNode(t, node)

	err := node.Send(context.Background(), make([]byte, netif.DefaultMTU+1))
	assert.ErrorIs(t, err, netif.ErrPacketTooLarge)
}

func TestNode_OutOfMemoryIsJournaled(t *testing.T) {
	medium := meshsim.NewLoopback()
	// Room for the receive mailbox and nothing else.
	limit := sysarch.MailboxOverhead + meshsim.DefaultReceiveDepth*sysarch.MessageSlotSize
	config := NewConfig("node-1").WithArchConfig(sysarch.Config{
		HeapLimit: limit,
		Mailbox:   sysarch.MailboxConfig{PollInterval: time.Millisecond},
	})
	node, err := New(config, LoopbackRadio(medium))
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	startNode(t, node)

	ctx := context.Background()
	err = node.Send(ctx, []byte("no room"))
	require.ErrorIs(t, err, pkgsysarch.ErrNoMemory)

	entries, err := node.GetJournal().Read(ctx, diag.KindQueueNoMemory, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].Attrs["length"])
}
