package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/cloudauth"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/health"
)

// executeCommand runs the root command with an isolated config file.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithConfig(t, "", args...)
}

// executeWithConfig is executeCommand with extra YAML appended to the
// config file.
func executeWithConfig(t *testing.T, extra string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshbridge.yaml")
	body := "logging:\n  level: error\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", path}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "meshbridge v0.1.0\n", out)
}

func TestNAT64Command(t *testing.T) {
	out, err := executeCommand(t, "nat64", "192.0.2.33", "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.33\t64:ff9b::c000:221\n8.8.8.8\t64:ff9b::808:808\n", out)
}

func TestNAT64Command_CustomPrefix(t *testing.T) {
	out, err := executeCommand(t, "nat64", "--prefix", "fd00:64::/96", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1\tfd00:64::a00:1\n", out)
}

func TestNAT64Command_Errors(t *testing.T) {
	_, err := executeCommand(t, "nat64")
	assert.Error(t, err, "needs a host")

	_, err = executeCommand(t, "nat64", "--prefix", "not-a-prefix", "10.0.0.1")
	assert.Error(t, err)

	_, err = executeCommand(t, "nat64", "--prefix", "fd00::/64", "10.0.0.1")
	assert.Error(t, err, "prefix must be a /96")
}

func TestNAT64Command_PrefixFromConfig(t *testing.T) {
	out, err := executeWithConfig(t, "node:\n  nat64_prefix: fd00:64::/96\n", "nat64", "10.0.0.1")
	if err != nil {
		t.Fatalf("nat64: %v", err)
	}
	if want := "10.0.0.1\tfd00:64::a00:1\n"; out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}

	_, err = executeWithConfig(t, "node:\n  nat64_prefix: fd00::/64\n", "nat64", "10.0.0.1")
	if err == nil || !strings.Contains(err.Error(), "node.nat64_prefix") {
		t.Fatalf("expected a node.nat64_prefix error, got %v", err)
	}
}

func TestTimeCommand(t *testing.T) {
	before := time.Now().Add(-time.Second)
	out, err := executeCommand(t, "time", "--server", "192.0.2.1", "--timeout", "5s")
	if err != nil {
		t.Fatalf("time: %v", err)
	}

	fields := strings.Split(strings.TrimSpace(out), "\t")
	if len(fields) != 3 {
		t.Fatalf("unexpected output %q", out)
	}
	if fields[0] != "192.0.2.1" {
		t.Fatalf("server = %q, want 192.0.2.1", fields[0])
	}
	got, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		t.Fatalf("parse time %q: %v", fields[1], err)
	}
	if got.Before(before.Truncate(time.Second)) || got.After(time.Now().Add(time.Second)) {
		t.Fatalf("time %v is not close to the host clock", got)
	}
}

func TestTimeCommand_Errors(t *testing.T) {
	if _, err := executeCommand(t, "time", "--timeout=-1s"); err == nil ||
		!strings.Contains(err.Error(), "time.timeout") {
		t.Fatalf("expected a time.timeout error, got %v", err)
	}
	if _, err := executeCommand(t, "time", "--prefix", "not-a-prefix"); err == nil {
		t.Fatal("invalid prefix accepted")
	}
	if _, err := executeCommand(t, "time", "extra"); err == nil {
		t.Fatal("positional argument accepted")
	}
}

func writeRSAKey(t *testing.T) (keyPath string, pubPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	keyPath = filepath.Join(t.TempDir(), "device.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, privPEM, 0o600))
	return keyPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestTokenCommand(t *testing.T) {
	keyPath, pubPEM := writeRSAKey(t)

	out, err := executeCommand(t, "token",
		"--key", keyPath,
		"--project", "demo-project",
		"--region", "us-central1",
		"--registry", "border-routers",
		"--device", "br-01",
		"--lifetime", "10m",
		"--describe")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "client_id: projects/demo-project/locations/us-central1/registries/border-routers/devices/br-01", lines[0])
	assert.Equal(t, "events:    /devices/br-01/events", lines[2])

	verifier, err := cloudauth.NewVerifier("demo-project", cloudauth.RS256, pubPEM)
	require.NoError(t, err)
	claims, err := verifier.Verify(lines[5])
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_Errors(t *testing.T) {
	_, err := executeCommand(t, "token", "--project", "p")
	assert.ErrorContains(t, err, "private key is required")

	_, err = executeCommand(t, "token", "--key", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	keyPath, _ := writeRSAKey(t)
	_, err = executeCommand(t, "token", "--key", keyPath, "--project", "p")
	assert.ErrorIs(t, err, cloudauth.ErrMissingField)
}

func startHealthServer(t *testing.T, state bridge.State) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc := health.New("node-1")
	svc.Update(bridge.HealthStatus{State: state})
	server := grpc.NewServer()
	svc.Register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func TestHealthCommand(t *testing.T) {
	addr := startHealthServer(t, bridge.StateRunning)

	out, err := executeCommand(t, "health", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, addr+": SERVING\n", out)

	out, err = executeCommand(t, "health", "--addr", addr, "--service", "node-1")
	require.NoError(t, err)
	assert.Contains(t, out, "SERVING")
}

func TestHealthCommand_NotServing(t *testing.T) {
	addr := startHealthServer(t, bridge.StateFinalizing)

	out, err := executeCommand(t, "health", "--addr", addr)
	assert.Error(t, err)
	assert.Contains(t, out, "NOT_SERVING")
}

func TestDialAddress(t *testing.T) {
	assert.Equal(t, "localhost:9090", dialAddress(":9090"))
	assert.Equal(t, "localhost:9090", dialAddress("0.0.0.0:9090"))
	assert.Equal(t, "10.1.2.3:7000", dialAddress("10.1.2.3:7000"))
	assert.Equal(t, "garbage", dialAddress("garbage"))
}

func TestRunCommand(t *testing.T) {
	out, err := executeCommand(t, "run",
		"--node-id", "test-node",
		"--listen", "127.0.0.1:0",
		"--send-interval", "20ms",
		"--duration", "400ms")
	require.NoError(t, err)

	assert.Contains(t, out, "test-node listening on 127.0.0.1:")
	assert.Contains(t, out, "test-node stopped: state=terminated")
	assert.NotContains(t, out, "sent=0 ")
}

func TestRunCommand_Errors(t *testing.T) {
	_, err := executeCommand(t, "run", "--listen", "not-an-address")
	assert.ErrorContains(t, err, "radio link")

	_, err = executeCommand(t, "run", "--node-id", "n", "--listen", "")
	assert.ErrorContains(t, err, "radio.listen")
}
