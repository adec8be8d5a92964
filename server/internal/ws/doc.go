// Package ws serves the live stream over WebSocket.
//
// Each accepted connection becomes one broadcast sink. On connect the client
// receives the current update immediately, then every payload the monitor
// publishes: {"type":"update", ...} once per fast heartbeat and
// {"type":"alert", ...} whenever an alert is raised.
//
// A connection whose outgoing buffer is full makes Send fail, which prunes
// it from the hub and closes the socket. The upgrader accepts all origins;
// apply CORS restrictions at the reverse proxy. The endpoint is mounted at
// /ws/stream by the server.
package ws
