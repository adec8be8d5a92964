package grpchealth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pulsewatch/pulsewatch/server/internal/monitor"
)

// ServiceName is the health service name registered for the monitor.
const ServiceName = "pulsewatch.Monitor"

// HealthSource provides the current system health.
type HealthSource interface {
	SystemHealth() monitor.Health
}

// Reporter mirrors system health into a grpc health server.
type Reporter struct {
	src      HealthSource
	srv      *health.Server
	interval time.Duration

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// New creates a Reporter that refreshes every interval (minimum 1 second).
func New(src HealthSource, interval time.Duration) *Reporter {
	if interval < time.Second {
		interval = time.Second
	}
	r := &Reporter{
		src:      src,
		srv:      health.NewServer(),
		interval: interval,
	}
	r.Refresh()
	return r
}

// Register adds the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// Refresh reads the current health, updates the serving status and returns it.
func (r *Reporter) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	h := r.src.SystemHealth()
	st := servingStatus(h.Status)

	r.mu.Lock()
	changed := st != r.last
	r.last = st
	r.mu.Unlock()

	r.srv.SetServingStatus("", st)
	r.srv.SetServingStatus(ServiceName, st)
	if changed {
		slog.Info("grpchealth: serving status changed", "status", st.String(), "health", h.Status)
	}
	return st
}

// Run refreshes until ctx is cancelled, then marks every service NOT_SERVING
// so in-flight Watch streams see the shutdown.
func (r *Reporter) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.srv.Shutdown()
			return
		case <-t.C:
			r.Refresh()
		}
	}
}

func servingStatus(s monitor.Status) healthpb.HealthCheckResponse_ServingStatus {
	if s == monitor.StatusCritical {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
