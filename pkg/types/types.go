package types

import (
	"time"
)

// MetricKind classifies a recorded metric.
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
	KindTimer     MetricKind = "timer"
)

// Valid reports whether k is one of the known metric kinds.
func (k MetricKind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindHistogram, KindTimer:
		return true
	default:
		return false
	}
}

// Metric is a single recorded sample.
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Kind      MetricKind        `json:"kind"`
}

// AlertLevel is the severity of an Alert.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelError    AlertLevel = "error"
	LevelCritical AlertLevel = "critical"
)

// Alert is one alert event raised by the alert manager.
type Alert struct {
	ID        string     `json:"id"`
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Resolved  bool       `json:"resolved"`
	Metadata  Metadata   `json:"metadata"`
}

// WindowPoint is one aggregated bucket of a metric's sliding window.
type WindowPoint struct {
	Bucket time.Time `json:"bucket"`
	Avg    float64   `json:"avg"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int       `json:"count"`
}

// MetricStats summarises the recent samples of one metric name.
type MetricStats struct {
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
	Latest float64 `json:"latest"`
}
