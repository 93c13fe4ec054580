// Package nat64 synthesizes IPv6 addresses for IPv4 hosts so mesh nodes can
// reach them through a NAT64 gateway.
package nat64

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	// ErrInvalidPrefix is returned for prefixes other than an IPv6 /96
	ErrInvalidPrefix = errors.New("NAT64 prefix must be an IPv6 /96")
	// ErrNotIPv4 is returned when a synthesized address is asked for a non-IPv4 address
	ErrNotIPv4 = errors.New("address is not IPv4")
	// ErrNoIPv4Address is returned when a host resolves to no IPv4 address
	ErrNoIPv4Address = errors.New("host has no IPv4 address")
)

// WellKnownPrefix is 64:ff9b::/96.
var WellKnownPrefix = netip.MustParsePrefix("64:ff9b::/96")

// Synthesize embeds v4 in the low 32 bits of prefix.
func Synthesize(prefix netip.Prefix, v4 netip.Addr) (netip.Addr, error) {
	if !prefix.IsValid() || !prefix.Addr().Is6() || prefix.Bits() != 96 {
		return netip.Addr{}, ErrInvalidPrefix
	}
	v4 = v4.Unmap()
	if !v4.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %w", v4, ErrNotIPv4)
	}

	b := prefix.Masked().Addr().As16()
	tail := v4.As4()
	copy(b[12:], tail[:])
	return netip.AddrFrom16(b), nil
}

// Extract returns the IPv4 address embedded in addr, if addr lies in prefix.
func Extract(prefix netip.Prefix, addr netip.Addr) (netip.Addr, bool) {
	if prefix.Bits() != 96 || !prefix.Contains(addr) {
		return netip.Addr{}, false
	}
	b := addr.As16()
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
}

// Lookuper resolves host names to IP addresses. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolver maps host names to NAT64 addresses.
type Resolver struct {
	prefix   netip.Prefix
	lookuper Lookuper
}

// NewResolver creates a resolver that synthesizes under prefix. A nil
// lookuper uses net.DefaultResolver.
func NewResolver(prefix netip.Prefix, lookuper Lookuper) (*Resolver, error) {
	if !prefix.IsValid() || !prefix.Addr().Is6() || prefix.Bits() != 96 {
		return nil, ErrInvalidPrefix
	}
	if lookuper == nil {
		lookuper = net.DefaultResolver
	}
	return &Resolver{prefix: prefix.Masked(), lookuper: lookuper}, nil
}

// Prefix returns the synthesis prefix.
func (r *Resolver) Prefix() netip.Prefix { return r.prefix }

// LookupNAT64 resolves host's first IPv4 address and synthesizes its NAT64
// address. IPv4 literals are synthesized without a lookup.
func (r *Resolver) LookupNAT64(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return Synthesize(r.prefix, addr)
	}

	addrs, err := r.lookuper.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return Synthesize(r.prefix, a)
		}
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ErrNoIPv4Address)
}
