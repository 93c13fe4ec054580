package discovery

import (
	"context"
	"strings"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/radiolink"
)

// StaticDiscovery implements Discovery using a static list of seed peers.
// A seed is either "host:port" or "id=host:port".
type StaticDiscovery struct {
	seedNodes []string
}

// staticPeer implements radiolink.Peer for static seeds
type staticPeer struct {
	id      string
	address string
}

func (p *staticPeer) ID() string      { return p.id }
func (p *staticPeer) Address() string { return p.address }
func (p *staticPeer) IsHealthy() bool { return true } // Static discovery assumes healthy

// NewStaticDiscovery creates a new static discovery service with the given seeds
func NewStaticDiscovery(seedNodes []string) *StaticDiscovery {
	return &StaticDiscovery{
		seedNodes: seedNodes,
	}
}

// FindPeers returns peers from the static seed list. Blank seeds are
// skipped and duplicate IDs keep their first address.
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]radiolink.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	peers := make([]radiolink.Peer, 0, len(s.seedNodes))
	seen := make(map[string]bool, len(s.seedNodes))
	for _, seed := range s.seedNodes {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		id, address := seed, seed
		if name, addr, ok := strings.Cut(seed, "="); ok {
			id, address = strings.TrimSpace(name), strings.TrimSpace(addr)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		peers = append(peers, &staticPeer{id: id, address: address})
	}
	return peers, nil
}

// NewPeer returns a radiolink.Peer for a known ID and address.
func NewPeer(id, address string) radiolink.Peer {
	return &staticPeer{id: id, address: address}
}
