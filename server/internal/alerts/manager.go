package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
)

const (
	defaultActiveWindow = time.Hour
	outboxSize          = 256
)

// Publisher receives every alert as soon as it is created.
type Publisher interface {
	PublishAlert(a types.Alert)
}

// Manager evaluates thresholds and patterns and owns the alert table.
//
// Manager is safe for concurrent use.
type Manager struct {
	pattern      config.PatternConfig
	webhooks     []config.WebhookConfig
	publisher    Publisher
	activeWindow time.Duration

	mu         sync.RWMutex
	thresholds map[string]config.Threshold
	alerts     map[string]*types.Alert

	outbox chan types.Alert
	client *http.Client
	log    *slog.Logger
	now    func() time.Time // injectable for deterministic tests
	newID  func() string
}

// New creates a Manager from the alert configuration. activeWindow is how
// long an unresolved alert counts as active (default 1h when zero). pub may
// be nil.
func New(cfg config.AlertsConfig, activeWindow time.Duration, pub Publisher) *Manager {
	if activeWindow <= 0 {
		activeWindow = defaultActiveWindow
	}
	m := &Manager{
		pattern:      cfg.Pattern,
		webhooks:     cfg.Webhooks,
		publisher:    pub,
		activeWindow: activeWindow,
		alerts:       make(map[string]*types.Alert),
		outbox:       make(chan types.Alert, outboxSize),
		client:       &http.Client{Timeout: 10 * time.Second},
		log:          slog.Default(),
		now:          time.Now,
		newID:        func() string { return "alert-" + uuid.NewString() },
	}
	m.SetThresholds(cfg.Thresholds)
	return m
}

// SetThresholds replaces the static threshold table.
func (m *Manager) SetThresholds(th map[string]config.Threshold) {
	cp := make(map[string]config.Threshold, len(th))
	for k, v := range th {
		cp[k] = v
	}
	m.mu.Lock()
	m.thresholds = cp
	m.mu.Unlock()
}

// Thresholds returns a copy of the static threshold table.
func (m *Manager) Thresholds() map[string]config.Threshold {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]config.Threshold, len(m.thresholds))
	for k, v := range m.thresholds {
		cp[k] = v
	}
	return cp
}

// CheckThreshold raises a CRITICAL or WARNING alert when metric crosses its
// registered threshold. Metrics without thresholds are ignored.
func (m *Manager) CheckThreshold(metric types.Metric) {
	m.mu.RLock()
	th, ok := m.thresholds[metric.Name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	level, fires := classify(metric.Value, th)
	if !fires {
		return
	}

	md := types.Metadata{
		"metric": types.String(metric.Name),
		"value":  types.Number(metric.Value),
		"kind":   types.String(string(metric.Kind)),
	}
	for k, v := range metric.Tags {
		md["tag."+k] = types.String(v)
	}

	if level == types.LevelCritical {
		md["threshold"] = types.Number(th.Critical)
		m.Raise(level,
			fmt.Sprintf("Critical %s", metric.Name),
			fmt.Sprintf("%s is critically high: %g", metric.Name, metric.Value),
			md)
		return
	}
	md["threshold"] = types.Number(th.Warning)
	m.Raise(level,
		fmt.Sprintf("High %s", metric.Name),
		fmt.Sprintf("%s is above warning threshold: %g", metric.Name, metric.Value),
		md)
}

// SweepPatterns evaluates the pattern rule against samples (oldest first)
// and reports whether it raised an alert.
func (m *Manager) SweepPatterns(samples []types.Metric) bool {
	p := m.pattern
	if p.Metric == "" || p.Samples < 1 {
		return false
	}
	mean, ok := meanOfNewest(samples, p.Metric, p.Samples)
	if !ok || mean <= p.Limit {
		return false
	}
	m.Raise(types.LevelCritical,
		"High Error Rate Detected",
		fmt.Sprintf("Average %s over the last %d samples: %.2f%%", p.Metric, p.Samples, mean*100),
		types.Metadata{
			"metric":      types.String(p.Metric),
			"mean":        types.Number(mean),
			"limit":       types.Number(p.Limit),
			"sample_size": types.Number(float64(p.Samples)),
		})
	return true
}

// Raise creates an alert, stores it, publishes it and queues webhook delivery.
func (m *Manager) Raise(level types.AlertLevel, title, message string, md types.Metadata) types.Alert {
	clean, _ := types.Sanitize(md)
	a := &types.Alert{
		ID:        m.newID(),
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: m.now(),
		Metadata:  clean,
	}

	m.mu.Lock()
	m.alerts[a.ID] = a
	out := copyAlert(a)
	m.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(string(level)).Inc()
	m.log.Warn("alert raised",
		"id", out.ID,
		"level", out.Level,
		"title", out.Title,
	)

	if m.publisher != nil {
		m.publisher.PublishAlert(out)
	}
	if len(m.webhooks) > 0 {
		select {
		case m.outbox <- out:
		default:
			m.log.Warn("alerts: webhook queue full, skipping delivery", "id", out.ID)
		}
	}
	return out
}

// Run delivers queued alerts to the configured webhooks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.outbox:
			m.deliver(&a)
		}
	}
}

// Get returns a copy of the alert with the given id.
func (m *Manager) Get(id string) (types.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return types.Alert{}, false
	}
	return copyAlert(a), true
}

// Resolve marks an alert as resolved. It reports whether the alert exists.
func (m *Manager) Resolve(id string) bool {
	m.mu.Lock()
	a, ok := m.alerts[id]
	if ok && !a.Resolved {
		a.Resolved = true
	}
	m.mu.Unlock()
	if ok {
		m.log.Info("alert resolved", "id", id)
	}
	return ok
}

// Active returns the unresolved alerts raised within the active window,
// newest first.
func (m *Manager) Active(now time.Time) []types.Alert {
	return m.collect(now, m.activeWindow, func(*types.Alert) bool { return true })
}

// CountCritical returns the number of unresolved CRITICAL alerts within the
// active window.
func (m *Manager) CountCritical(now time.Time) int {
	return len(m.collect(now, m.activeWindow, func(a *types.Alert) bool {
		return a.Level == types.LevelCritical
	}))
}

// CountRecent returns the number of unresolved alerts raised within window.
func (m *Manager) CountRecent(now time.Time, window time.Duration) int {
	return len(m.collect(now, window, func(*types.Alert) bool { return true }))
}

// Len returns the number of stored alerts, resolved or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

// Evict removes alerts raised before cutoff and returns how many were removed.
func (m *Manager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, a := range m.alerts {
		if a.Timestamp.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) collect(now time.Time, window time.Duration, keep func(*types.Alert) bool) []types.Alert {
	cutoff := now.Add(-window)
	m.mu.RLock()
	out := make([]types.Alert, 0)
	for _, a := range m.alerts {
		if a.Resolved || !a.Timestamp.After(cutoff) || !keep(a) {
			continue
		}
		out = append(out, copyAlert(a))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func copyAlert(a *types.Alert) types.Alert {
	cp := *a
	cp.Metadata = a.Metadata.Clone()
	return cp
}
