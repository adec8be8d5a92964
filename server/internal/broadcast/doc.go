// Package broadcast fans live updates and alerts out to registered sinks.
//
// A Sink is anything that can try to send a payload; the WebSocket transport
// is one implementation. Delivery is at-most-once: a sink whose Send fails is
// pruned immediately and never retried.
package broadcast
