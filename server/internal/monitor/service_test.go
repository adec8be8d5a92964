package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/profiler"
)

func newService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Defaults()
	return New(cfg.Monitor, cfg.Alerts)
}

type fakeSink struct {
	mu  sync.Mutex
	got [][]byte
}

func (s *fakeSink) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, p)
	return nil
}

func (s *fakeSink) last() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return nil
	}
	var msg map[string]interface{}
	json.Unmarshal(s.got[len(s.got)-1], &msg) //nolint:errcheck
	return msg
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordMetric_CriticalThresholdAlert(t *testing.T) {
	s := newService(t)
	s.Start(context.Background())
	defer s.Stop()

	s.RecordMetric("response_time_ms", 6000, map[string]string{"agent": "a-1"}, types.KindTimer)

	waitFor(t, func() bool { return len(s.ActiveAlerts()) > 0 })
	time.Sleep(20 * time.Millisecond)

	active := s.ActiveAlerts()
	if len(active) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(active))
	}
	a := active[0]
	if a.Level != types.LevelCritical {
		t.Errorf("level: got %s, want critical", a.Level)
	}
	if a.Metadata["metric"].String() != "response_time_ms" {
		t.Errorf("metadata metric: got %q", a.Metadata["metric"].String())
	}
	if h := s.SystemHealth(); h.Status != StatusCritical {
		t.Errorf("health: got %s, want critical", h.Status)
	}

	if !s.ResolveAlert(a.ID) {
		t.Fatal("ResolveAlert: want true")
	}
	if h := s.SystemHealth(); h.Status != StatusHealthy {
		t.Errorf("health after resolve: got %s, want healthy", h.Status)
	}
	if got, ok := s.Alert(a.ID); !ok || !got.Resolved {
		t.Errorf("Alert(%s): got %+v, %v", a.ID, got, ok)
	}
}

func TestTick_ChecksSamplesSkippedByFullQueue(t *testing.T) {
	cfg := config.Defaults()
	cfg.Monitor.CheckQueueSize = 8
	s := New(cfg.Monitor, cfg.Alerts)

	// Nothing drains the queue before Start, so the breach overflows it.
	for i := 0; i < 100; i++ {
		s.RecordMetric("response_time_ms", 100, nil, types.KindTimer)
	}
	s.RecordMetric("response_time_ms", 6000, nil, types.KindTimer)

	s.tick()

	active := s.ActiveAlerts()
	if len(active) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(active))
	}
	if active[0].Level != types.LevelCritical {
		t.Errorf("level: got %s, want critical", active[0].Level)
	}
	if v, _ := active[0].Metadata["value"].Float(); v != 6000 {
		t.Errorf("value: got %v, want 6000", v)
	}
	if h := s.SystemHealth(); h.Status != StatusCritical {
		t.Errorf("health: got %s, want critical", h.Status)
	}
}

func TestTick_PatternAlertAndBroadcast(t *testing.T) {
	s := newService(t)
	sink := &fakeSink{}
	s.Register(sink)

	for i := 0; i < 5; i++ {
		s.RecordMetric("error_rate", 0.5, nil, types.KindGauge)
	}
	s.tick()

	active := s.ActiveAlerts()
	if len(active) != 1 || active[0].Title != "High Error Rate Detected" {
		t.Fatalf("alerts: got %+v, want one pattern alert", active)
	}
	if h := s.SystemHealth(); h.Status != StatusCritical {
		t.Errorf("health: got %s, want critical", h.Status)
	}

	msg := sink.last()
	if msg == nil || msg["type"] != "update" {
		t.Fatalf("last payload: got %v, want update", msg)
	}
	if msg["recent_alerts"] != 1.0 {
		t.Errorf("recent_alerts: got %v, want 1", msg["recent_alerts"])
	}
	summary, _ := msg["metrics_summary"].(map[string]interface{})
	if summary["error_rate"] == nil {
		t.Errorf("metrics_summary: got %v, want error_rate", msg["metrics_summary"])
	}

	pts, err := s.Windows("error_rate", "minute")
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if len(pts) != 1 || pts[0].Count != 5 {
		t.Errorf("minute window: got %+v, want one point of 5 samples", pts)
	}
}

func TestSystemHealth_Degraded(t *testing.T) {
	s := newService(t)
	for i := 0; i < 6; i++ {
		s.RecordMetric("error_rate", 0.01, nil, types.KindGauge)
	}
	s.RecordMetric("error_rate", 0, nil, types.KindGauge)

	h := s.SystemHealth()
	if h.Status != StatusDegraded {
		t.Errorf("status: got %s, want degraded", h.Status)
	}
	if h.RecentErrors != 6 {
		t.Errorf("recent errors: got %d, want 6", h.RecentErrors)
	}
	if h.BufferSize != 7 {
		t.Errorf("buffer size: got %d, want 7", h.BufferSize)
	}
}

func TestSystemHealth_UnderLoad(t *testing.T) {
	s := newService(t)
	for i := 0; i < 51; i++ {
		if _, err := s.StartExecution(fmt.Sprintf("e%d", i), nil); err != nil {
			t.Fatalf("StartExecution: %v", err)
		}
	}
	h := s.SystemHealth()
	if h.Status != StatusUnderLoad || h.ActiveExecutions != 51 {
		t.Errorf("health: got %s with %d active, want under_load with 51", h.Status, h.ActiveExecutions)
	}
}

func TestDeriveStatus_Precedence(t *testing.T) {
	cases := []struct {
		name string
		h    Health
		want Status
	}{
		{"all clear", Health{}, StatusHealthy},
		{"critical wins", Health{CriticalAlertCount: 1, RecentErrors: 10, ActiveExecutions: 100}, StatusCritical},
		{"degraded before load", Health{RecentErrors: 6, ActiveExecutions: 100}, StatusDegraded},
		{"five errors is fine", Health{RecentErrors: 5}, StatusHealthy},
		{"under load", Health{ActiveExecutions: 51}, StatusUnderLoad},
		{"fifty active is fine", Health{ActiveExecutions: 50}, StatusHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveStatus(tc.h, 5, 50); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExecutionLifecycle(t *testing.T) {
	s := newService(t)
	id, err := s.StartExecution("", types.Metadata{"agent": types.String("a-1")})
	if err != nil || id == "" {
		t.Fatalf("StartExecution: got %q, %v", id, err)
	}
	if _, err := s.StartExecution(id, nil); !errors.Is(err, profiler.ErrDuplicateExecution) {
		t.Errorf("duplicate: got %v, want ErrDuplicateExecution", err)
	}
	s.RecordFunctionCall(id, "plan", 10*time.Millisecond, true)
	s.EndExecution(id, "completed", "")
	s.EndExecution("unknown", "completed", "")

	rep, ok := s.PerformanceReport(id)
	if !ok {
		t.Fatal("PerformanceReport: want true")
	}
	if rep.Profile.State != profiler.StateEnded || len(rep.Profile.Calls) != 1 {
		t.Errorf("profile: got %+v", rep.Profile)
	}
	if _, ok := s.PerformanceReport("unknown"); ok {
		t.Error("PerformanceReport(unknown): want false")
	}

	summary := s.MetricsSummary()
	if summary[profiler.MetricDuration].Count != 1 {
		t.Errorf("summary %s: got %+v", profiler.MetricDuration, summary[profiler.MetricDuration])
	}
}

func TestSweep_PurgesOldProfiles(t *testing.T) {
	s := newService(t)
	s.StartExecution("e1", nil) //nolint:errcheck
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	got := s.Sweep()
	if got["profiles"] != 1 {
		t.Errorf("profiles purged: got %d, want 1", got["profiles"])
	}
	if _, ok := s.PerformanceReport("e1"); ok {
		t.Error("profile still present after sweep")
	}
}

func TestWindows_UnknownGranularity(t *testing.T) {
	s := newService(t)
	if _, err := s.Windows("x", "week"); !errors.Is(err, ErrUnknownGranularity) {
		t.Errorf("err: got %v, want ErrUnknownGranularity", err)
	}
	pts, err := s.Windows("missing", "hour")
	if err != nil || pts == nil || len(pts) != 0 {
		t.Errorf("missing series: got %v, %v, want empty slice", pts, err)
	}
}

func TestDisabledService(t *testing.T) {
	cfg := config.Defaults()
	cfg.Monitor.Enabled = false
	s := New(cfg.Monitor, cfg.Alerts)
	s.Start(context.Background())
	defer s.Stop()

	s.RecordMetric("response_time_ms", 6000, nil, types.KindTimer)
	id, err := s.StartExecution("e1", nil)
	if id != "e1" || err != nil {
		t.Errorf("StartExecution: got %q, %v", id, err)
	}
	s.EndExecution("e1", "", "")

	if h := s.SystemHealth(); h.Status != StatusDegraded || h.Enabled {
		t.Errorf("health: got %+v, want degraded and disabled", h)
	}
	if len(s.MetricsSummary()) != 0 || len(s.ActiveAlerts()) != 0 {
		t.Error("queries on a disabled service returned data")
	}
	if _, ok := s.PerformanceReport("e1"); ok {
		t.Error("PerformanceReport: want false")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := newService(t)
	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSetThresholds(t *testing.T) {
	s := newService(t)
	s.SetThresholds(map[string]config.Threshold{"queue_depth": {Warning: 10, Critical: 20}})
	th := s.Thresholds()
	if len(th) != 1 || th["queue_depth"].Critical != 20 {
		t.Errorf("thresholds: got %v", th)
	}
}

func TestRecoverOp_SwallowsPanic(t *testing.T) {
	s := newService(t)
	func() {
		defer s.recoverOp("test")
		panic("boom")
	}()
}
