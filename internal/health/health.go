// Package health exposes the bridge worker state through the standard gRPC
// health checking protocol.
package health

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
)

// DefaultInterval is how often Run samples the source.
const DefaultInterval = time.Second

// Source reports bridge health.
type Source interface {
	Health() bridge.HealthStatus
}

// Service publishes a bridge's health under a service name. The empty
// service name (overall server health) follows the same status.
type Service struct {
	name   string
	server *grpchealth.Server

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// New creates a service reporting under name. Until the first Update the
// status is NOT_SERVING.
func New(name string) *Service {
	s := &Service{
		name:   name,
		server: grpchealth.NewServer(),
		last:   healthpb.HealthCheckResponse_NOT_SERVING,
	}
	s.server.SetServingStatus(name, s.last)
	s.server.SetServingStatus("", s.last)
	return s
}

// Register adds the health service to r.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.server)
}

// Update publishes h and returns the resulting status.
func (s *Service) Update(h bridge.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	st := StatusOf(h)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st != s.last {
		logging.Info(logging.ComponentHealth, "serving status changed",
			"service", s.name, "status", st.String(), "bridge", h.State.String())
		s.last = st
	}
	s.server.SetServingStatus(s.name, st)
	s.server.SetServingStatus("", st)
	return st
}

// Run samples src every interval until ctx ends, then marks every service
// NOT_SERVING. It always returns nil once ctx is done.
func (s *Service) Run(ctx context.Context, src Source, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Update(src.Health())
	for {
		select {
		case <-ctx.Done():
			s.server.Shutdown()
			return nil
		case <-ticker.C:
			s.Update(src.Health())
		}
	}
}

// StatusOf maps a bridge state to a serving status. Only a running worker
// is serving.
func StatusOf(h bridge.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if h.State == bridge.StateRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
