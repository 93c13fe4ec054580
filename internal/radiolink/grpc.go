// Package radiolink carries radio frames between bridge nodes over gRPC.
//
// Each link serves the meshbridge.radio.v1.Radio service. Transmit is a
// unary call per connected peer carrying the frame as a BytesValue; the
// receiving link raises the node's radio receive interrupt.
package radiolink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/discovery"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/radiolink"
)

var (
	// ErrClosed is returned by operations on a closed link
	ErrClosed = errors.New("radio link closed")
	// ErrPeerNotFound is returned for unknown peer IDs
	ErrPeerNotFound = errors.New("peer not found")
	// ErrFrameTooLarge is returned for frames above MaxFrameSize
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrNotStarted is returned by Address before Start
	ErrNotStarted = errors.New("radio link not started")
)

const (
	serviceName    = "meshbridge.radio.v1.Radio"
	transmitMethod = "/" + serviceName + "/Transmit"
	nodeIDHeader   = "x-radio-node-id"
)

// Receiver accepts frames from the link. It is the platform's receive
// interrupt.
type Receiver interface {
	ReceiveFromRadio(frame []byte)
}

// Option configures a GRPCLink.
type Option func(*GRPCLink)

// WithService registers an additional service on the link's gRPC server,
// such as the health service.
func WithService(register func(grpc.ServiceRegistrar)) Option {
	return func(l *GRPCLink) { l.registrations = append(l.registrations, register) }
}

// Stats counts frames moved by a link.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	FramesDropped  uint64
}

// GRPCLink implements the radiolink.Link interface using gRPC unary calls.
type GRPCLink struct {
	config *Config
	rx     Receiver

	mu            sync.RWMutex
	peers         map[string]*peerState
	server        *grpc.Server
	listener      net.Listener
	registrations []func(grpc.ServiceRegistrar)
	closed        bool

	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
}

type peerState struct {
	mu       sync.Mutex
	id       string
	address  string
	conn     *grpc.ClientConn
	health   radiolink.PeerHealthState
	failures int
}

func (p *peerState) snapshot() radiolink.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &peerInfo{id: p.id, address: p.address, healthy: p.health == radiolink.PeerHealthy}
}

func (p *peerState) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.failures = 0
		p.health = radiolink.PeerHealthy
		return
	}
	p.failures++
	p.health = radiolink.PeerUnhealthy
}

type peerInfo struct {
	id      string
	address string
	healthy bool
}

func (p *peerInfo) ID() string      { return p.id }
func (p *peerInfo) Address() string { return p.address }
func (p *peerInfo) IsHealthy() bool { return p.healthy }

// NewGRPCLink creates a link that delivers received frames to rx.
func NewGRPCLink(config *Config, rx Receiver, opts ...Option) (*GRPCLink, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Make a copy and set defaults
	configCopy := *config
	configCopy.SetDefaults()

	l := &GRPCLink{
		config: &configCopy,
		rx:     rx,
		peers:  make(map[string]*peerState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start listens on the configured address, serves the radio service and
// connects the static peers.
func (l *GRPCLink) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.server != nil {
		l.mu.Unlock()
		return nil
	}

	lis, err := net.Listen("tcp", l.config.ListenAddress)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", l.config.ListenAddress, err)
	}

	server := grpc.NewServer(grpc.MaxRecvMsgSize(l.config.MaxFrameSize + 64))
	server.RegisterService(&radioServiceDesc, &radioService{link: l})
	for _, register := range l.registrations {
		register(server)
	}
	l.server = server
	l.listener = lis
	l.mu.Unlock()

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Error(logging.ComponentRadioLink, "radio server stopped", "error", err)
		}
	}()
	logging.Info(logging.ComponentRadioLink, "radio link listening", "node", l.config.NodeID, "address", lis.Addr().String())

	peers, err := discovery.NewStaticDiscovery(l.config.Peers).FindPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to find peers: %w", err)
	}
	for _, peer := range peers {
		if err := l.Connect(ctx, peer); err != nil {
			return fmt.Errorf("failed to connect peer %s: %w", peer.ID(), err)
		}
	}
	return nil
}

// Address returns the address the link is serving on.
func (l *GRPCLink) Address() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.listener == nil {
		return "", ErrNotStarted
	}
	return l.listener.Addr().String(), nil
}

// Connect adds peer as a receiver of transmitted frames. Connecting a peer
// ID that is already connected is a no-op.
func (l *GRPCLink) Connect(ctx context.Context, peer radiolink.Peer) error {
	if peer == nil {
		return fmt.Errorf("peer cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.peers[peer.ID()]; ok {
		return nil
	}

	conn, err := grpc.NewClient(peer.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", peer.Address(), err)
	}
	l.peers[peer.ID()] = &peerState{
		id:      peer.ID(),
		address: peer.Address(),
		conn:    conn,
		health:  radiolink.PeerHealthy,
	}
	logging.Info(logging.ComponentRadioLink, "peer connected", "node", l.config.NodeID, "peer", peer.ID(), "address", peer.Address())
	return nil
}

// Disconnect removes the peer with the given ID.
func (l *GRPCLink) Disconnect(ctx context.Context, peerID string) error {
	l.mu.Lock()
	p, ok := l.peers[peerID]
	delete(l.peers, peerID)
	l.mu.Unlock()

	if !ok {
		return ErrPeerNotFound
	}
	return p.conn.Close()
}

// Transmit sends frame to every connected peer. It fails only when there
// are peers and none of them accepted the frame.
func (l *GRPCLink) Transmit(frame []byte) error {
	if len(frame) > l.config.MaxFrameSize {
		return fmt.Errorf("transmit %d bytes: %w", len(frame), ErrFrameTooLarge)
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	peers := make([]*peerState, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.RUnlock()

	if len(peers) == 0 {
		return nil
	}

	in := wrapperspb.Bytes(frame)
	var errs []error
	for _, p := range peers {
		err := l.send(p, in)
		p.record(err)
		if err != nil {
			l.framesDropped.Add(1)
			logging.Debug(logging.ComponentRadioLink, "frame not delivered", "peer", p.id, "error", err)
			errs = append(errs, fmt.Errorf("peer %s: %w", p.id, err))
			continue
		}
		l.framesSent.Add(1)
	}
	if len(errs) == len(peers) {
		return fmt.Errorf("transmit to %d peers: %w", len(peers), errors.Join(errs...))
	}
	return nil
}

func (l *GRPCLink) send(p *peerState, in *wrapperspb.BytesValue) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.SendTimeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, nodeIDHeader, l.config.NodeID)
	return p.conn.Invoke(ctx, transmitMethod, in, &emptypb.Empty{})
}

// GetConnectedPeers returns all currently connected peers, sorted by ID.
func (l *GRPCLink) GetConnectedPeers(ctx context.Context) ([]radiolink.Peer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	peers := make([]radiolink.Peer, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p.snapshot())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers, nil
}

// GetPeerHealth returns health status for a specific peer.
func (l *GRPCLink) GetPeerHealth(ctx context.Context, peerID string) (radiolink.PeerHealthState, error) {
	l.mu.RLock()
	p, ok := l.peers[peerID]
	l.mu.RUnlock()
	if !ok {
		return radiolink.PeerDisconnected, ErrPeerNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health, nil
}

// Stats returns frame counters.
func (l *GRPCLink) Stats() Stats {
	return Stats{
		FramesSent:     l.framesSent.Load(),
		FramesReceived: l.framesReceived.Load(),
		FramesDropped:  l.framesDropped.Load(),
	}
}

// Close stops the server and disconnects every peer.
func (l *GRPCLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil // Already closed, safe to call multiple times
	}
	l.closed = true
	server := l.server
	peers := l.peers
	l.peers = make(map[string]*peerState)
	l.mu.Unlock()

	if server != nil {
		server.Stop()
	}
	var errs []error
	for _, p := range peers {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *GRPCLink) deliver(ctx context.Context, frame []byte) error {
	if len(frame) > l.config.MaxFrameSize {
		return status.Errorf(codes.InvalidArgument, "frame of %d bytes exceeds %d", len(frame), l.config.MaxFrameSize)
	}
	if l.rx == nil {
		return status.Error(codes.Unavailable, "no receiver attached")
	}

	from := "unknown"
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(nodeIDHeader); len(v) > 0 {
			from = v[0]
		}
	}
	logging.Debug(logging.ComponentRadioLink, "frame received", "node", l.config.NodeID, "from", from, "length", len(frame))

	l.framesReceived.Add(1)
	l.rx.ReceiveFromRadio(frame)
	return nil
}

// radioServer is the server side of meshbridge.radio.v1.Radio.
type radioServer interface {
	Transmit(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

type radioService struct {
	link *GRPCLink
}

func (s *radioService) Transmit(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if err := s.link.deliver(ctx, in.GetValue()); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func transmitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(radioServer).Transmit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: transmitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(radioServer).Transmit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var radioServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*radioServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Transmit",
			Handler:    transmitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshbridge/radio/v1/radio.proto",
}

// Verify that GRPCLink implements the Link interface at compile time
var _ radiolink.Link = (*GRPCLink)(nil)
