package health

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
)

type stateSource struct {
	state atomic.Int32
}

func (s *stateSource) Health() bridge.HealthStatus {
	return bridge.HealthStatus{State: bridge.State(s.state.Load())}
}

func (s *stateSource) set(st bridge.State) { s.state.Store(int32(st)) }

func newClient(t *testing.T, svc *Service) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	server := grpc.NewServer()
	svc.Register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		state bridge.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{bridge.StateInit, healthpb.HealthCheckResponse_NOT_SERVING},
		{bridge.StateRunning, healthpb.HealthCheckResponse_SERVING},
		{bridge.StateFinalizing, healthpb.HealthCheckResponse_NOT_SERVING},
		{bridge.StateTerminated, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(bridge.HealthStatus{State: tt.state}))
		})
	}
}

func TestService_UpdateIsVisibleToClients(t *testing.T) {
	svc := New("meshbridge")
	client := newClient(t, svc)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "meshbridge"))

	svc.Update(bridge.HealthStatus{State: bridge.StateRunning})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, "meshbridge"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	svc.Update(bridge.HealthStatus{State: bridge.StateTerminated})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, "meshbridge"))
}

func TestService_RunFollowsSource(t *testing.T) {
	svc := New("meshbridge")
	client := newClient(t, svc)
	src := &stateSource{}
	src.set(bridge.StateRunning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, src, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return check(t, client, "meshbridge") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	src.set(bridge.StateTerminated)
	require.Eventually(t, func() bool {
		return check(t, client, "meshbridge") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
