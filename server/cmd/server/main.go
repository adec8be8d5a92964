package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/pulsewatch/pulsewatch/server/internal/api"
	"github.com/pulsewatch/pulsewatch/server/internal/auth"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/grpchealth"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
	"github.com/pulsewatch/pulsewatch/server/internal/monitor"
	"github.com/pulsewatch/pulsewatch/server/internal/scrape"
	"github.com/pulsewatch/pulsewatch/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("pulsewatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"monitor_enabled", cfg.Monitor.Enabled,
		"thresholds", len(cfg.Alerts.Thresholds),
		"scrape_targets", len(cfg.Scrape.Targets),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, cfg); err != nil {
		slog.Error("pulsewatch-server stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pulsewatch-server stopped")
}

func run(ctx context.Context, configPath string, cfg *config.Config) error {
	// Monitoring service: recorder, alerts, profiler, windows, heartbeats.
	svc := monitor.New(cfg.Monitor, cfg.Alerts)
	svc.Start(ctx)
	defer svc.Stop()

	prometheus.MustRegister(metrics.NewSummaryCollector(svc.MetricsSummary))

	guard := auth.New(cfg.Server.Auth)

	grpcSrv, health, lis, err := listenGRPC(cfg.Server, guard, svc, cfg.Monitor.FastInterval)
	if err != nil {
		return err
	}
	if grpcSrv == nil {
		slog.Info("gRPC health disabled")
	}

	// Combined HTTP server: query API, live stream and self metrics.
	stream := ws.New(svc)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", guard.Middleware(api.New(svc)))
	httpMux.Handle("/ws/stream", guard.Middleware(stream))
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if grpcSrv != nil {
		g.Go(func() error {
			slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			health.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Hot reload: alert thresholds follow the config file.
	g.Go(func() error {
		err := config.WatchThresholds(gctx, configPath, cfg.Alerts.Thresholds, svc.SetThresholds)
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
		return nil
	})

	for _, target := range cfg.Scrape.Targets {
		s := scrape.New(target, svc)
		g.Go(func() error {
			s.Run(gctx, cfg.Scrape.Interval)
			return nil
		})
		slog.Info("scrape target registered", "id", target.ID, "endpoint", target.Endpoint)
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("pulsewatch-server shutting down")

		stream.CloseAll()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

// listenGRPC builds the gRPC server with the standard health service behind
// the API key interceptors and binds its port. A zero port leaves gRPC off
// and returns nils.
func listenGRPC(sc config.ServerConfig, guard *auth.Guard, src grpchealth.HealthSource, refresh time.Duration) (*grpc.Server, *grpchealth.Reporter, net.Listener, error) {
	if sc.GRPCPort == 0 {
		return nil, nil, nil, nil
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listen on gRPC port %d: %w", sc.GRPCPort, err)
	}
	srv := grpc.NewServer(guard.ServerOptions()...)
	health := grpchealth.New(src, refresh)
	health.Register(srv)
	return srv, health, lis, nil
}
