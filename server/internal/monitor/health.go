package monitor

import "time"

// Status is the derived overall health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusCritical  Status = "critical"
	StatusUnderLoad Status = "under_load"
)

// errorMetric is the metric name counted as error samples.
const errorMetric = "error_rate"

// Health is the system health report.
type Health struct {
	Status             Status    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	Enabled            bool      `json:"enabled"`
	ActiveExecutions   int       `json:"active_executions"`
	RecentErrors       int       `json:"recent_errors"`
	CriticalAlertCount int       `json:"critical_alert_count"`
	SubscriberCount    int       `json:"subscriber_count"`
	BufferSize         int       `json:"buffer_size"`
	BufferCapacity     int       `json:"buffer_capacity"`
}

// SystemHealth derives the current status. Precedence: critical (an
// unresolved CRITICAL alert within the active window), degraded (too many
// non-zero error_rate samples within the error window), under_load (too many
// active executions), healthy. A disabled service reports degraded.
func (s *Service) SystemHealth() Health {
	now := s.now()
	if !s.cfg.Enabled {
		return Health{Status: StatusDegraded, Timestamp: now}
	}

	h := Health{
		Timestamp:          now,
		Enabled:            true,
		ActiveExecutions:   s.prof.ActiveCount(),
		RecentErrors:       s.recentErrors(now),
		CriticalAlertCount: s.alert.CountCritical(now),
		SubscriberCount:    s.hub.Count(),
		BufferSize:         s.rec.Len(),
		BufferCapacity:     s.rec.Cap(),
	}
	h.Status = deriveStatus(h, s.cfg.DegradedErrorSamples, s.cfg.UnderLoadExecutions)
	return h
}

func deriveStatus(h Health, maxErrors, maxActive int) Status {
	switch {
	case h.CriticalAlertCount > 0:
		return StatusCritical
	case h.RecentErrors > maxErrors:
		return StatusDegraded
	case h.ActiveExecutions > maxActive:
		return StatusUnderLoad
	default:
		return StatusHealthy
	}
}

func (s *Service) recentErrors(now time.Time) int {
	n := 0
	for _, m := range s.rec.Since(now.Add(-s.cfg.ErrorWindow)) {
		if m.Name == errorMetric && m.Value > 0 {
			n++
		}
	}
	return n
}
