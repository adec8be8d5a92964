package window

import (
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/ring"
)

// Granularity describes one rollup level.
type Granularity struct {
	// Name identifies the granularity in queries ("minute", "hour", "day").
	Name string
	// Step is the minimum spacing between two appended points.
	Step time.Duration
	// Lookback is the span of samples aggregated into each point.
	Lookback time.Duration
	// Buckets is the fixed length of the sliding window.
	Buckets int
	// PerTick marks a granularity fed once per heartbeat. Its points are
	// stamped with the tick time and spaced by at least half a Step, so a
	// late tick followed by a punctual one still yields two points.
	PerTick bool
}

// Defaults returns the minute/hour/day granularities. The minute window
// appends once per fastStep, which matches the fast heartbeat.
func Defaults(fastStep time.Duration) []Granularity {
	if fastStep <= 0 {
		fastStep = time.Second
	}
	return []Granularity{
		{Name: "minute", Step: fastStep, Lookback: time.Minute, Buckets: 60, PerTick: true},
		{Name: "hour", Step: time.Minute, Lookback: time.Hour, Buckets: 60},
		{Name: "day", Step: time.Hour, Lookback: 24 * time.Hour, Buckets: 24},
	}
}

type seriesKey struct {
	granularity string
	metric      string
}

// Aggregator owns the sliding windows. Safe for concurrent use.
type Aggregator struct {
	grans []Granularity

	mu     sync.RWMutex
	series map[seriesKey]*ring.Buffer[types.WindowPoint]
	last   map[string]time.Time // last appended point per granularity
}

// New creates an Aggregator for the given granularities.
func New(grans []Granularity) *Aggregator {
	return &Aggregator{
		grans:  grans,
		series: make(map[seriesKey]*ring.Buffer[types.WindowPoint]),
		last:   make(map[string]time.Time),
	}
}

// Granularities returns the configured rollup levels.
func (a *Aggregator) Granularities() []Granularity {
	out := make([]Granularity, len(a.grans))
	copy(out, a.grans)
	return out
}

// MaxLookback returns the widest lookback of any granularity, which bounds
// the samples Aggregate needs.
func (a *Aggregator) MaxLookback() time.Duration {
	var max time.Duration
	for _, g := range a.grans {
		if g.Lookback > max {
			max = g.Lookback
		}
	}
	return max
}

// Aggregate appends one point per metric name to every granularity whose
// current bucket has not been filled yet. It returns the number of points
// appended.
func (a *Aggregator) Aggregate(now time.Time, samples []types.Metric) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	appended := 0
	for _, g := range a.grans {
		bucket, due := a.due(g, now)
		if !due {
			continue
		}
		a.last[g.Name] = bucket

		cutoff := now.Add(-g.Lookback)
		for name, st := range rollup(samples, cutoff, now) {
			key := seriesKey{granularity: g.Name, metric: name}
			buf, ok := a.series[key]
			if !ok {
				buf = ring.New[types.WindowPoint](g.Buckets)
				a.series[key] = buf
			}
			buf.Push(types.WindowPoint{
				Bucket: bucket,
				Avg:    st.Avg,
				Min:    st.Min,
				Max:    st.Max,
				Count:  st.Count,
			})
			appended++
		}
	}
	return appended
}

// due reports whether g takes a new point at now, and the point's bucket time.
func (a *Aggregator) due(g Granularity, now time.Time) (time.Time, bool) {
	last, seen := a.last[g.Name]
	if g.PerTick {
		return now, !seen || now.Sub(last) >= g.Step/2
	}
	bucket := now.Truncate(g.Step)
	return bucket, !seen || bucket.After(last)
}

// Points returns the window of metric at granularity, oldest first.
// It returns nil when the series does not exist.
func (a *Aggregator) Points(metric, granularity string) []types.WindowPoint {
	a.mu.RLock()
	buf, ok := a.series[seriesKey{granularity: granularity, metric: metric}]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Snapshot()
}

// Names returns the sorted metric names that have at least one series.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	set := make(map[string]struct{})
	for k := range a.series {
		set[k.metric] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Evict removes series whose newest bucket is before cutoff and returns the
// number removed. Metrics that stop reporting therefore stop costing memory.
func (a *Aggregator) Evict(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for k, buf := range a.series {
		p, ok := buf.Newest()
		if !ok || p.Bucket.Before(cutoff) {
			delete(a.series, k)
			removed++
		}
	}
	return removed
}

// Summarize computes per-name stats over all samples, in the given order.
// Latest is the value of the last sample of each name.
func Summarize(samples []types.Metric) map[string]types.MetricStats {
	return rollup(samples, time.Time{}, time.Time{})
}

// rollup groups samples stamped in (from, to] by name. Zero bounds are open.
func rollup(samples []types.Metric, from, to time.Time) map[string]types.MetricStats {
	type acc struct {
		sum      float64
		min, max float64
		count    int
		latest   float64
	}
	accs := make(map[string]*acc)
	for _, m := range samples {
		if !from.IsZero() && !m.Timestamp.After(from) {
			continue
		}
		if !to.IsZero() && m.Timestamp.After(to) {
			continue
		}
		x, ok := accs[m.Name]
		if !ok {
			accs[m.Name] = &acc{sum: m.Value, min: m.Value, max: m.Value, count: 1, latest: m.Value}
			continue
		}
		x.sum += m.Value
		x.count++
		x.latest = m.Value
		if m.Value < x.min {
			x.min = m.Value
		}
		if m.Value > x.max {
			x.max = m.Value
		}
	}

	out := make(map[string]types.MetricStats, len(accs))
	for name, x := range accs {
		out[name] = types.MetricStats{
			Avg:    x.sum / float64(x.count),
			Min:    x.min,
			Max:    x.max,
			Count:  x.count,
			Latest: x.latest,
		}
	}
	return out
}
