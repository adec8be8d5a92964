package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/alerts"
	"github.com/pulsewatch/pulsewatch/server/internal/broadcast"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/housekeeper"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
	"github.com/pulsewatch/pulsewatch/server/internal/profiler"
	"github.com/pulsewatch/pulsewatch/server/internal/recorder"
	"github.com/pulsewatch/pulsewatch/server/internal/window"
)

// ErrUnknownGranularity is returned by Windows for an unconfigured granularity.
var ErrUnknownGranularity = errors.New("monitor: unknown granularity")

// Service is the monitoring subsystem. Construct it with New; the zero value
// is not usable.
type Service struct {
	cfg config.MonitorConfig

	rec   *recorder.Recorder
	win   *window.Aggregator
	alert *alerts.Manager
	prof  *profiler.Profiler
	hub   *broadcast.Hub
	hk    *housekeeper.Housekeeper

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log *slog.Logger
	now func() time.Time // injectable for deterministic tests
}

// New builds a Service from the monitor and alert configuration.
func New(cfg config.MonitorConfig, acfg config.AlertsConfig) *Service {
	s := &Service{
		cfg: cfg,
		hub: broadcast.New(),
		win: window.New(window.Defaults(cfg.FastInterval)),
		log: slog.Default(),
		now: time.Now,
	}
	s.alert = alerts.New(acfg, cfg.ActiveAlertWindow, s.hub)
	s.rec = recorder.New(cfg.BufferCapacity, cfg.CheckQueueSize, s.alert)
	s.prof = profiler.New(cfg.BottleneckThreshold, s.rec, s.alert)
	s.hk = housekeeper.New(cfg.SlowInterval,
		housekeeper.Task{Name: "profiles", Retention: cfg.ProfileRetention, Target: s.prof},
		housekeeper.Task{Name: "alerts", Retention: cfg.AlertRetention, Target: s.alert},
		housekeeper.Task{Name: "windows", Retention: s.win.MaxLookback(), Target: s.win},
	)
	return s
}

// Enabled reports whether the subsystem is switched on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start launches the check worker, webhook worker and both heartbeats.
// Calling Start on a running or disabled service does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.cfg.Enabled {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.spawn(func() { s.rec.Run(ctx) })
	s.spawn(func() { s.alert.Run(ctx) })
	s.spawn(func() { s.heartbeat(ctx) })
	s.spawn(func() { s.hk.Run(ctx) })

	s.log.Info("monitor: started",
		"fast_interval", s.cfg.FastInterval,
		"slow_interval", s.cfg.SlowInterval,
		"buffer_capacity", s.cfg.BufferCapacity,
	)
}

// Stop cancels the background work and waits for it to return. Webhook posts
// already in flight are abandoned with the worker.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("monitor: stopped")
}

func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// heartbeat runs tick every FastInterval until ctx is cancelled.
func (s *Service) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.cfg.FastInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick runs one fast heartbeat: deferred threshold checks, pattern sweep,
// window aggregation, then the live update. A panic aborts the tick but not
// the heartbeat.
func (s *Service) tick() {
	defer s.recoverOp("tick")
	start := time.Now()
	now := s.now()

	samples := s.rec.Since(now.Add(-s.win.MaxLookback()))
	recent := since(samples, now.Add(-s.cfg.SummaryWindow))

	for _, m := range s.rec.TakeDeferred() {
		s.alert.CheckThreshold(m)
	}
	s.alert.SweepPatterns(recent)
	s.win.Aggregate(now, samples)
	s.hub.PublishUpdate(s.update(now, recent))

	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// Sweep runs one housekeeping pass immediately.
func (s *Service) Sweep() map[string]int {
	return s.hk.Sweep(s.now())
}

// --- ingestion ---------------------------------------------------------------

// RecordMetric buffers one sample. Invalid samples are dropped and logged.
func (s *Service) RecordMetric(name string, value float64, tags map[string]string, kind types.MetricKind) {
	if !s.cfg.Enabled {
		return
	}
	defer s.recoverOp("record_metric")
	s.rec.Record(name, value, tags, kind)
}

// StartExecution begins profiling an execution and returns its id, generating
// one when id is empty. A duplicate id returns profiler.ErrDuplicateExecution.
func (s *Service) StartExecution(id string, md types.Metadata) (execID string, err error) {
	if !s.cfg.Enabled {
		return id, nil
	}
	defer s.recoverOp("start_execution")
	return s.prof.Start(id, md)
}

// RecordFunctionCall adds a function-call span to an active execution.
func (s *Service) RecordFunctionCall(id, name string, d time.Duration, success bool) {
	if !s.cfg.Enabled {
		return
	}
	defer s.recoverOp("record_function_call")
	s.prof.RecordCall(id, name, d, success)
}

// EndExecution finalises an execution. Unknown ids are ignored.
func (s *Service) EndExecution(id, status, errMsg string) {
	if !s.cfg.Enabled {
		return
	}
	defer s.recoverOp("end_execution")
	s.prof.End(id, status, errMsg)
}

func (s *Service) recoverOp(op string) {
	if r := recover(); r != nil {
		metrics.IngestDropped.WithLabelValues("panic").Inc()
		s.log.Error("monitor: recovered panic", "op", op, "panic", fmt.Sprint(r))
	}
}

// --- queries -----------------------------------------------------------------

// MetricsSummary returns per-metric stats over the summary window.
func (s *Service) MetricsSummary() map[string]types.MetricStats {
	if !s.cfg.Enabled {
		return map[string]types.MetricStats{}
	}
	now := s.now()
	return window.Summarize(s.rec.Since(now.Add(-s.cfg.SummaryWindow)))
}

// PerformanceReport returns the profile and recommendations for id.
func (s *Service) PerformanceReport(id string) (profiler.Report, bool) {
	if !s.cfg.Enabled {
		return profiler.Report{}, false
	}
	return s.prof.Report(id)
}

// ActiveAlerts returns unresolved alerts within the active window, newest first.
func (s *Service) ActiveAlerts() []types.Alert {
	if !s.cfg.Enabled {
		return []types.Alert{}
	}
	return s.alert.Active(s.now())
}

// Alert returns the alert with the given id.
func (s *Service) Alert(id string) (types.Alert, bool) {
	if !s.cfg.Enabled {
		return types.Alert{}, false
	}
	return s.alert.Get(id)
}

// ResolveAlert marks an alert resolved. It reports false for unknown ids.
func (s *Service) ResolveAlert(id string) bool {
	if !s.cfg.Enabled {
		return false
	}
	return s.alert.Resolve(id)
}

// Windows returns the sliding window of metric at the named granularity.
// A known granularity with no data yields an empty slice.
func (s *Service) Windows(metric, granularity string) ([]types.WindowPoint, error) {
	known := false
	for _, g := range s.win.Granularities() {
		if g.Name == granularity {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGranularity, granularity)
	}
	if !s.cfg.Enabled {
		return []types.WindowPoint{}, nil
	}
	pts := s.win.Points(metric, granularity)
	if pts == nil {
		pts = []types.WindowPoint{}
	}
	return pts, nil
}

// Thresholds returns the static alert thresholds in effect.
func (s *Service) Thresholds() map[string]config.Threshold {
	return s.alert.Thresholds()
}

// SetThresholds replaces the static alert thresholds, e.g. after a config reload.
func (s *Service) SetThresholds(th map[string]config.Threshold) {
	s.alert.SetThresholds(th)
	s.log.Info("monitor: thresholds updated", "count", len(th))
}

// --- subscriptions -----------------------------------------------------------

// Register subscribes sink to live updates and alerts.
func (s *Service) Register(sink broadcast.Sink) { s.hub.Register(sink) }

// Unregister removes sink.
func (s *Service) Unregister(sink broadcast.Sink) { s.hub.Unregister(sink) }

// Update returns the live update a subscriber would receive now.
func (s *Service) Update() broadcast.Update {
	now := s.now()
	if !s.cfg.Enabled {
		return broadcast.Update{Timestamp: now, MetricsSummary: map[string]types.MetricStats{}}
	}
	return s.update(now, s.rec.Since(now.Add(-s.cfg.SummaryWindow)))
}

func (s *Service) update(now time.Time, recent []types.Metric) broadcast.Update {
	return broadcast.Update{
		Timestamp:        now,
		ActiveExecutions: s.prof.ActiveCount(),
		RecentAlerts:     s.alert.CountRecent(now, s.cfg.RecentAlertWindow),
		MetricsSummary:   window.Summarize(recent),
	}
}

// since filters samples stamped after cutoff.
func since(samples []types.Metric, cutoff time.Time) []types.Metric {
	out := make([]types.Metric, 0, len(samples))
	for _, m := range samples {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
