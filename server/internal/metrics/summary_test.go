package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsewatch/pulsewatch/pkg/types"
)

func TestSummaryCollector_Gathers(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewSummaryCollector(func() map[string]types.MetricStats {
		return map[string]types.MetricStats{
			"response_time_ms": {Avg: 150, Min: 100, Max: 200, Count: 2, Latest: 200},
		}
	})
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 5 {
		t.Fatalf("families: got %d, want 5", len(mfs))
	}

	byName := map[string]float64{}
	for _, mf := range mfs {
		m := mf.GetMetric()
		if len(m) != 1 {
			t.Fatalf("%s: got %d series, want 1", mf.GetName(), len(m))
		}
		if lbl := m[0].GetLabel(); len(lbl) != 1 || lbl[0].GetValue() != "response_time_ms" {
			t.Errorf("%s: unexpected labels %v", mf.GetName(), lbl)
		}
		byName[mf.GetName()] = m[0].GetGauge().GetValue()
	}
	if byName["pulsewatch_metric_avg"] != 150 {
		t.Errorf("avg: got %v, want 150", byName["pulsewatch_metric_avg"])
	}
	if byName["pulsewatch_metric_samples"] != 2 {
		t.Errorf("samples: got %v, want 2", byName["pulsewatch_metric_samples"])
	}
}

func TestSummaryCollector_Empty(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewSummaryCollector(func() map[string]types.MetricStats { return nil }))
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Errorf("families: got %d, want 0", len(mfs))
	}
}
