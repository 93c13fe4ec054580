package nat64

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLookuper map[string][]netip.Addr

func (s staticLookuper) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := s[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		v4     string
		want   string
	}{
		{"well known", "64:ff9b::/96", "8.8.8.8", "64:ff9b::808:808"},
		{"network specific", "fd00:64::/96", "192.0.2.33", "fd00:64::c000:221"},
		{"mapped input", "64:ff9b::/96", "::ffff:10.0.0.1", "64:ff9b::a00:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Synthesize(netip.MustParsePrefix(tt.prefix), netip.MustParseAddr(tt.v4))
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), got)

			back, ok := Extract(netip.MustParsePrefix(tt.prefix), got)
			assert.True(t, ok)
			assert.Equal(t, netip.MustParseAddr(tt.v4).Unmap(), back)
		})
	}
}

func TestSynthesize_Errors(t *testing.T) {
	_, err := Synthesize(netip.MustParsePrefix("64:ff9b::/64"), netip.MustParseAddr("1.2.3.4"))
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	_, err = Synthesize(netip.Prefix{}, netip.MustParseAddr("1.2.3.4"))
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	_, err = Synthesize(WellKnownPrefix, netip.MustParseAddr("2001:db8::1"))
	assert.ErrorIs(t, err, ErrNotIPv4)

	_, ok := Extract(WellKnownPrefix, netip.MustParseAddr("2001:db8::1"))
	assert.False(t, ok)
}

func TestResolver_LookupNAT64(t *testing.T) {
	r, err := NewResolver(WellKnownPrefix, staticLookuper{
		"mqtt.example.com": {netip.MustParseAddr("2001:db8::5"), netip.MustParseAddr("203.0.113.7")},
		"v6only.example":   {netip.MustParseAddr("2001:db8::6")},
	})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := r.LookupNAT64(ctx, "mqtt.example.com")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("64:ff9b::cb00:7107"), got)

	got, err = r.LookupNAT64(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("64:ff9b::c633:6401"), got)

	_, err = r.LookupNAT64(ctx, "v6only.example")
	assert.ErrorIs(t, err, ErrNoIPv4Address)

	_, err = r.LookupNAT64(ctx, "missing.example")
	assert.Error(t, err)
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver(netip.MustParsePrefix("10.0.0.0/8"), nil)
	assert.ErrorIs(t, err, ErrInvalidPrefix)

	r, err := NewResolver(netip.MustParsePrefix("64:ff9b::1/96"), nil)
	require.NoError(t, err)
	assert.Equal(t, WellKnownPrefix, r.Prefix())
}
