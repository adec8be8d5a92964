// Package window computes per-metric rollups (avg/min/max/count) and keeps
// them in bounded sliding windows, one series per metric name per
// granularity. The default granularities are minute (60 buckets), hour
// (60 buckets) and day (24 buckets).
//
// Aggregate is called from the fast heartbeat with a snapshot of recent
// samples; it never touches the metric buffer itself. A granularity appends
// at most one point per step, keyed by now.Truncate(step).
package window
