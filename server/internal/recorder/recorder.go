package recorder

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
	"github.com/pulsewatch/pulsewatch/server/internal/ring"
)

// Checker evaluates a freshly recorded metric, typically against static thresholds.
type Checker interface {
	CheckThreshold(m types.Metric)
}

// Recorder buffers metrics and dispatches threshold checks.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	buf     *ring.Buffer[types.Metric]
	checks  chan types.Metric
	checker Checker

	mu       sync.Mutex
	deferred map[string]types.Metric // highest sample per name whose check was skipped

	log *slog.Logger
	now func() time.Time // injectable for deterministic tests
}

// New creates a Recorder with a ring buffer of the given capacity and a check
// queue of queueSize entries. checker may be nil, in which case no checks run.
func New(capacity, queueSize int, checker Checker) *Recorder {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Recorder{
		buf:      ring.New[types.Metric](capacity),
		checks:   make(chan types.Metric, queueSize),
		checker:  checker,
		deferred: make(map[string]types.Metric),
		log:      slog.Default(),
		now:      time.Now,
	}
}

// Record appends a metric stamped with the current time and queues its
// threshold check. Invalid input is logged and dropped; Record never blocks
// and never panics into the caller.
func (r *Recorder) Record(name string, value float64, tags map[string]string, kind types.MetricKind) {
	if name == "" {
		r.drop("empty_name", name)
		return
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		r.drop("non_finite", name)
		return
	}
	if !kind.Valid() {
		kind = types.KindGauge
	}

	m := types.Metric{
		Name:      name,
		Value:     value,
		Timestamp: r.now(),
		Tags:      copyTags(tags),
		Kind:      kind,
	}
	r.buf.Push(m)
	metrics.Recorded.WithLabelValues(string(kind)).Inc()

	if r.checker == nil {
		return
	}
	select {
	case r.checks <- m:
	default:
		r.deferCheck(m)
	}
}

// deferCheck keeps the highest-valued sample per name whose check did not
// fit in the queue, so TakeDeferred can check it on the next heartbeat.
func (r *Recorder) deferCheck(m types.Metric) {
	r.mu.Lock()
	if prev, ok := r.deferred[m.Name]; !ok || m.Value >= prev.Value {
		r.deferred[m.Name] = m
	}
	r.mu.Unlock()
	metrics.IngestDropped.WithLabelValues("check_queue_full").Inc()
	r.log.Debug("recorder: check queue full, deferring threshold check", "metric", m.Name)
}

// TakeDeferred returns and clears the samples whose threshold check was
// skipped because the queue was full, one per metric name, sorted by name.
func (r *Recorder) TakeDeferred() []types.Metric {
	r.mu.Lock()
	if len(r.deferred) == 0 {
		r.mu.Unlock()
		return nil
	}
	pending := r.deferred
	r.deferred = make(map[string]types.Metric)
	r.mu.Unlock()

	out := make([]types.Metric, 0, len(pending))
	for _, m := range pending {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run drains the check queue until ctx is cancelled. Checks still queued at
// cancellation are discarded.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.checks:
			r.check(m)
		}
	}
}

// check runs one threshold evaluation, containing any panic.
func (r *Recorder) check(m types.Metric) {
	defer func() {
		if p := recover(); p != nil {
			metrics.IngestDropped.WithLabelValues("check_failed").Inc()
			r.log.Error("recorder: threshold check failed", "metric", m.Name, "panic", p)
		}
	}()
	r.checker.CheckThreshold(m)
}

// Since returns the buffered metrics stamped after cutoff, oldest first.
// It works on a snapshot, so concurrent Record calls never race with the caller.
func (r *Recorder) Since(cutoff time.Time) []types.Metric {
	all := r.buf.Snapshot()
	// Concurrent writers may interleave timestamps slightly, so filter every
	// entry rather than cutting at the first recent one.
	out := all[:0]
	for _, m := range all {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot returns every buffered metric, oldest first.
func (r *Recorder) Snapshot() []types.Metric {
	return r.buf.Snapshot()
}

// Len returns the number of buffered metrics.
func (r *Recorder) Len() int {
	return r.buf.Len()
}

// Cap returns the ring buffer capacity.
func (r *Recorder) Cap() int {
	return r.buf.Cap()
}

// Pending returns the number of queued threshold checks.
func (r *Recorder) Pending() int {
	return len(r.checks)
}

func (r *Recorder) drop(reason, name string) {
	metrics.IngestDropped.WithLabelValues(reason).Inc()
	r.log.Warn("recorder: metric dropped", "reason", reason, "metric", name)
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
