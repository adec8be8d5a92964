// Package grpchealth exposes the monitor's system health through the standard
// grpc.health.v1.Health service.
//
// Reporter polls SystemHealth on an interval and sets the serving status of
// both the overall server ("") and the "pulsewatch.Monitor" service:
// critical maps to NOT_SERVING, every other status to SERVING. Load
// balancers and grpc_health_probe can therefore take a node out of rotation
// while it has unresolved critical alerts. Authentication is enforced by the
// server interceptor (see package auth).
package grpchealth
