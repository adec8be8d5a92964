// Package metrics holds pulsewatch's own Prometheus instrumentation and a
// collector that exposes the live per-metric summary as gauges.
//
// Counters are package-level promauto vars registered on the default
// registry; the server mounts promhttp.Handler at /metrics.
package metrics
