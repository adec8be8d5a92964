// Package recorder is the metric ingress. Record stamps a sample, stores it in
// a fixed-capacity ring buffer and queues it for threshold evaluation without
// ever blocking the caller.
//
// Threshold checks run on a single consumer goroutine (Run) fed by a bounded
// channel. When the channel is full the check is dropped and counted; the
// sample itself is always buffered.
package recorder
