package scrape

import (
	"sort"

	dto "github.com/prometheus/client_model/go"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
)

type sample struct {
	name  string
	value float64
	tags  map[string]string
	kind  types.MetricKind
}

// convert flattens metric families into samples, in family name order.
func convert(mfs map[string]*dto.MetricFamily, target config.ScrapeTarget) []sample {
	include := make(map[string]bool, len(target.Include))
	for _, n := range target.Include {
		include[n] = true
	}

	names := make([]string, 0, len(mfs))
	for n := range mfs {
		if len(include) == 0 || include[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var out []sample
	for _, n := range names {
		mf := mfs[n]
		for _, m := range mf.GetMetric() {
			v, kind, ok := value(m)
			if !ok {
				continue
			}
			out = append(out, sample{
				name:  target.Prefix + n,
				value: v,
				tags:  tags(m, target.ID),
				kind:  kind,
			})
		}
	}
	return out
}

// value extracts the sample value and kind of one metric.
func value(m *dto.Metric) (float64, types.MetricKind, bool) {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue(), types.KindCounter, true
	case m.Gauge != nil:
		return m.Gauge.GetValue(), types.KindGauge, true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), types.KindGauge, true
	case m.Histogram != nil:
		return mean(m.Histogram.GetSampleSum(), m.Histogram.GetSampleCount())
	case m.Summary != nil:
		return mean(m.Summary.GetSampleSum(), m.Summary.GetSampleCount())
	}
	return 0, "", false
}

func mean(sum float64, count uint64) (float64, types.MetricKind, bool) {
	if count == 0 {
		return 0, "", false
	}
	return sum / float64(count), types.KindHistogram, true
}

func tags(m *dto.Metric, source string) map[string]string {
	out := make(map[string]string, len(m.GetLabel())+1)
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	out["source"] = source
	return out
}
