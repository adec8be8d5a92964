package api

import (
	"github.com/pulsewatch/pulsewatch/pkg/types"
)

// MetricsResponse is the payload for GET /api/v1/metrics.
type MetricsResponse struct {
	Metrics     map[string]types.MetricStats `json:"metrics"`
	GeneratedAt string                       `json:"generated_at"` // RFC3339
}

// WindowsResponse is the payload for GET /api/v1/metrics/{name}/windows.
type WindowsResponse struct {
	Metric      string              `json:"metric"`
	Granularity string              `json:"granularity"`
	Points      []types.WindowPoint `json:"points"`
}

// ResolveResponse is the payload for POST /api/v1/alerts/{id}/resolve.
type ResolveResponse struct {
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
