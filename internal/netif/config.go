package netif

import (
	"errors"
	"net/netip"
)

// Defaults for the mesh interface.
const (
	// DefaultMTU is the largest IPv6 datagram the mesh stack accepts.
	DefaultMTU = 1280

	// DefaultMaxAddresses is the number of unicast address slots, including
	// the link-local slot.
	DefaultMaxAddresses = 4

	// OutputEventOverhead is charged per queued packet on top of its payload.
	OutputEventOverhead = 24

	// receiveBlockSize is the chunk size used to copy received messages into
	// an IP stack frame.
	receiveBlockSize = 128
)

var (
	// DefaultNAT64Prefix is the well-known NAT64 prefix.
	DefaultNAT64Prefix = netip.MustParsePrefix("64:ff9b::/96")

	// DefaultDNSServer is 8.8.8.8 behind the well-known NAT64 prefix.
	DefaultDNSServer = netip.MustParseAddr("64:ff9b::808:808")
)

// Config holds configuration for a Netif.
type Config struct {
	// MTU bounds the size of packets accepted by the output path.
	MTU int

	// MaxAddresses is the number of unicast address slots.
	MaxAddresses int

	// NAT64Prefix is used to reach IPv4 hosts.
	NAT64Prefix netip.Prefix

	// DNSServer is handed to the IP stack resolver at attach time.
	DNSServer netip.Addr
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset fields.
func (c *Config) SetDefaults() {
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.MaxAddresses == 0 {
		c.MaxAddresses = DefaultMaxAddresses
	}
	if !c.NAT64Prefix.IsValid() {
		c.NAT64Prefix = DefaultNAT64Prefix
	}
	if !c.DNSServer.IsValid() {
		c.DNSServer = DefaultDNSServer
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MTU < 0 {
		return errors.New("MTU cannot be negative")
	}
	if c.MaxAddresses < 1 {
		return errors.New("at least one address slot is required")
	}
	if c.NAT64Prefix.IsValid() && (!c.NAT64Prefix.Addr().Is6() || c.NAT64Prefix.Bits() != 96) {
		return errors.New("NAT64 prefix must be an IPv6 /96")
	}
	if c.DNSServer.IsValid() && !c.DNSServer.Is6() {
		return errors.New("DNS server must be an IPv6 address")
	}
	return nil
}
