// Package api implements the HTTP query API of pulsewatch-server.
//
// New(q) returns an http.Handler that serves:
//
//	GET  /api/v1/health                       system health (monitor.Health)
//	GET  /api/v1/metrics                      per-metric summary over the last minute
//	GET  /api/v1/metrics/{name}/windows       sliding window; ?granularity=minute|hour|day
//	GET  /api/v1/executions/{id}              performance report; 404 if unknown
//	GET  /api/v1/alerts                       active alerts, newest first
//	GET  /api/v1/alerts/{id}                  one alert; 404 if unknown
//	POST /api/v1/alerts/{id}/resolve          mark an alert resolved; 404 if unknown
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. JSON types are defined in types.go. No external
// HTTP framework is used.
package api
