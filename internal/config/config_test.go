package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/cloudauth"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/timesync"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.NotEmpty(t, cfg.Node.ID)
	assert.Equal(t, uint64(1), cfg.Node.InterfaceID)
	assert.Equal(t, ":9090", cfg.Radio.Listen)
	assert.Equal(t, 2*time.Second, cfg.Radio.SendTimeout)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, "RS256", cfg.Cloud.Algorithm)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Radio.Listen, cfg.Radio.Listen)
	assert.Equal(t, d.Radio.SendTimeout, cfg.Radio.SendTimeout)
	assert.Empty(t, cfg.Radio.Peers)
	assert.Equal(t, 5*time.Second, cfg.Bridge.StopTimeout)
}

func TestNewViper_ReadsFile(t *testing.T) {
	path := writeFile(t, `
node:
  id: border-router
  interface_id: 16
  heap_limit: 65536
bridge:
  poll_timeout: 250ms
radio:
  listen: 127.0.0.1:7000
  peers:
    - node-b=127.0.0.1:7001
    - 127.0.0.1:7002
cloud:
  project_id: proj
  algorithm: ES256
logging:
  format: json
`)

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "border-router", cfg.Node.ID)
	assert.Equal(t, uint64(16), cfg.Node.InterfaceID)
	assert.Equal(t, 65536, cfg.Node.HeapLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.PollTimeout)
	assert.Equal(t, "127.0.0.1:7000", cfg.Radio.Listen)
	assert.Equal(t, []string{"node-b=127.0.0.1:7001", "127.0.0.1:7002"}, cfg.Radio.Peers)
	assert.Equal(t, "ES256", cfg.Cloud.Algorithm)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Node.HostInbox)
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewViper_EnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "node:\n  id: from-file\n")
	t.Setenv("MESHBRIDGE_NODE_ID", "from-env")
	t.Setenv("MESHBRIDGE_RADIO_SEND_TIMEOUT", "750ms")
	t.Setenv("MESHBRIDGE_HEALTH_ENABLED", "false")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, 750*time.Millisecond, cfg.Radio.SendTimeout)
	assert.False(t, cfg.Health.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty node id", func(c *Config) { c.Node.ID = "" }, true},
		{"negative heap", func(c *Config) { c.Node.HeapLimit = -1 }, true},
		{"negative depth", func(c *Config) { c.Node.ReceiveDepth = -1 }, true},
		{"negative poll timeout", func(c *Config) { c.Bridge.PollTimeout = -time.Second }, true},
		{"empty listen", func(c *Config) { c.Radio.Listen = "" }, true},
		{"health without interval", func(c *Config) { c.Health.Interval = 0 }, true},
		{"health disabled ignores interval", func(c *Config) {
			c.Health.Enabled = false
			c.Health.Interval = 0
		}, false},
		{"bad algorithm", func(c *Config) { c.Cloud.Algorithm = "HS256" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"unparsable nat64 prefix", func(c *Config) { c.Node.NAT64Prefix = "64:ff9b::" }, true},
		{"nat64 prefix not /96", func(c *Config) { c.Node.NAT64Prefix = "64:ff9b::/64" }, true},
		{"ipv4 nat64 prefix", func(c *Config) { c.Node.NAT64Prefix = "10.0.0.0/8" }, true},
		{"empty nat64 prefix", func(c *Config) { c.Node.NAT64Prefix = "" }, false},
		{"empty time server", func(c *Config) { c.Time.Server = "" }, true},
		{"negative time timeout", func(c *Config) { c.Time.Timeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = ""
	cfg.Cloud.Algorithm = "none"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.id")
	assert.ErrorIs(t, err, cloudauth.ErrUnsupportedAlgorithm)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = "node-7"
	cfg.Node.InterfaceID = 7
	cfg.Node.HeapLimit = 4096
	cfg.Bridge.TeardownRetries = 3
	cfg.Radio.Peers = []string{"a=127.0.0.1:1"}
	cfg.Cloud.ProjectID = "p"

	nc := cfg.MeshNodeConfig()
	nc.SetDefaults()
	require.NoError(t, nc.Validate())
	assert.Equal(t, "node-7", nc.NodeID)
	assert.Equal(t, "node-7", nc.Bridge.Name)
	assert.Equal(t, uint64(7), nc.Stack.InterfaceID)
	assert.Equal(t, 4096, nc.Arch.HeapLimit)
	assert.Equal(t, 3, nc.Arch.Mailbox.RetryBudget)

	rc := cfg.RadioLinkConfig()
	require.NoError(t, rc.Validate())
	assert.Equal(t, "node-7", rc.NodeID)
	assert.Equal(t, []string{"a=127.0.0.1:1"}, rc.Peers)

	cc := cfg.CloudAuthConfig()
	assert.Equal(t, "p", cc.ProjectID)
	assert.Equal(t, cloudauth.RS256, cc.Algorithm)
	assert.Equal(t, cloudauth.DefaultServerAddress, cc.ServerAddress)
}

func TestNAT64PrefixReachesNetif(t *testing.T) {
	cfg := Default()
	cfg.Node.NAT64Prefix = "fd00:64::/96"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	nc := cfg.MeshNodeConfig()
	if want := netip.MustParsePrefix("fd00:64::/96"); nc.Netif.NAT64Prefix != want {
		t.Fatalf("netif prefix = %s, want %s", nc.Netif.NAT64Prefix, want)
	}

	cfg.Node.NAT64Prefix = ""
	if got := cfg.MeshNodeConfig().Netif.NAT64Prefix; got != nat64.WellKnownPrefix {
		t.Fatalf("empty prefix mapped to %s, want %s", got, nat64.WellKnownPrefix)
	}
}

func TestTimeSyncConfig(t *testing.T) {
	path := writeFile(t, "time:\n  server: 192.0.2.7\n  timeout: 750ms\n")
	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("new viper: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tc := cfg.TimeSyncConfig()
	if tc.Server != "192.0.2.7" {
		t.Fatalf("server = %q, want 192.0.2.7", tc.Server)
	}
	if tc.Timeout != 750*time.Millisecond {
		t.Fatalf("timeout = %v, want 750ms", tc.Timeout)
	}
	if tc.Port != 123 {
		t.Fatalf("port = %d, want 123", tc.Port)
	}

	d := Default().TimeSyncConfig()
	if d.Server != timesync.DefaultServer || d.Timeout != timesync.DefaultTimeout {
		t.Fatalf("unexpected default time config: %+v", d)
	}
}
