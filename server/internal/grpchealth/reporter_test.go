package grpchealth_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pulsewatch/pulsewatch/server/internal/auth"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/grpchealth"
	"github.com/pulsewatch/pulsewatch/server/internal/monitor"
)

type fakeSource struct {
	mu     sync.Mutex
	status monitor.Status
}

func (f *fakeSource) SystemHealth() monitor.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.Health{Status: f.status}
}

func (f *fakeSource) set(s monitor.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// startServer starts a gRPC server with the reporter registered behind the
// guard's interceptor and returns a connected health client.
func startServer(t *testing.T, rep *grpchealth.Reporter, guard *auth.Guard) healthpb.HealthClient {
	t.Helper()

	srv := grpc.NewServer(guard.ServerOptions()...)
	rep.Register(srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func openGuard() *auth.Guard { return auth.New(config.AuthConfig{Mode: "none"}) }

func check(t *testing.T, c healthpb.HealthClient, ctx context.Context, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestCheck_FollowsSystemHealth(t *testing.T) {
	src := &fakeSource{status: monitor.StatusHealthy}
	rep := grpchealth.New(src, 0)
	client := startServer(t, rep, openGuard())
	ctx := context.Background()

	if got := check(t, client, ctx, grpchealth.ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("healthy: got %v, want SERVING", got)
	}

	src.set(monitor.StatusCritical)
	rep.Refresh()
	if got := check(t, client, ctx, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("critical: got %v, want NOT_SERVING", got)
	}

	src.set(monitor.StatusDegraded)
	if got := rep.Refresh(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("degraded: got %v, want SERVING", got)
	}
}

func TestCheck_UnknownService(t *testing.T) {
	client := startServer(t, grpchealth.New(&fakeSource{status: monitor.StatusHealthy}, 0), openGuard())
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("code: got %v, want NotFound", status.Code(err))
	}
}

func TestCheck_RequiresAPIKey(t *testing.T) {
	t.Setenv("PULSEWATCH_TEST_KEY", "secret")
	guard := auth.New(config.AuthConfig{Mode: auth.ModeAPIKey, KeyEnv: "PULSEWATCH_TEST_KEY"})
	client := startServer(t, grpchealth.New(&fakeSource{status: monitor.StatusHealthy}, 0), guard)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("without key: got %v, want Unauthenticated", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "secret")
	if got := check(t, client, ctx, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("with key: got %v, want SERVING", got)
	}
}

func TestWatch_RequiresAPIKey(t *testing.T) {
	t.Setenv("PULSEWATCH_TEST_KEY", "secret")
	guard := auth.New(config.AuthConfig{Mode: auth.ModeAPIKey, KeyEnv: "PULSEWATCH_TEST_KEY"})
	client := startServer(t, grpchealth.New(&fakeSource{status: monitor.StatusHealthy}, 0), guard)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
	if err == nil {
		_, err = stream.Recv()
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("without key: got %v, want Unauthenticated", status.Code(err))
	}

	keyed := metadata.AppendToOutgoingContext(ctx, "x-api-key", "secret")
	stream, err = client.Watch(keyed, &healthpb.HealthCheckRequest{Service: grpchealth.ServiceName})
	if err != nil {
		t.Fatalf("Watch with key: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv with key: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("with key: got %v, want SERVING", resp.Status)
	}
}
