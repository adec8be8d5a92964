// Package monitor wires the metric recorder, window aggregator, alert manager,
// execution profiler, broadcast hub and housekeeper into one Service.
//
// The Service is the only type the rest of the server talks to. Ingestion
// methods are safe to call from request paths: they never block on I/O and
// recover their own panics. Query methods return empty results (and a
// degraded health status) when the service is disabled.
//
// Two heartbeats run while the service is started:
//
//	fast (default 1s)  pattern alerts → window aggregation → live update
//	slow (default 5m)  housekeeping sweep of profiles, alerts, window series
package monitor
