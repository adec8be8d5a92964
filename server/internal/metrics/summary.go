package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsewatch/pulsewatch/pkg/types"
)

var (
	summaryAvgDesc = prometheus.NewDesc(
		namespace+"_metric_avg", "Average of the metric over the summary window.",
		[]string{"metric"}, nil,
	)
	summaryMaxDesc = prometheus.NewDesc(
		namespace+"_metric_max", "Maximum of the metric over the summary window.",
		[]string{"metric"}, nil,
	)
	summaryMinDesc = prometheus.NewDesc(
		namespace+"_metric_min", "Minimum of the metric over the summary window.",
		[]string{"metric"}, nil,
	)
	summaryCountDesc = prometheus.NewDesc(
		namespace+"_metric_samples", "Samples of the metric in the summary window.",
		[]string{"metric"}, nil,
	)
	summaryLatestDesc = prometheus.NewDesc(
		namespace+"_metric_latest", "Most recent value of the metric.",
		[]string{"metric"}, nil,
	)
)

// SummaryCollector exposes a per-metric summary as gauges on every scrape.
type SummaryCollector struct {
	summary func() map[string]types.MetricStats
}

// NewSummaryCollector returns a collector that calls summary on every Collect.
func NewSummaryCollector(summary func() map[string]types.MetricStats) *SummaryCollector {
	return &SummaryCollector{summary: summary}
}

// Describe implements prometheus.Collector.
func (c *SummaryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- summaryAvgDesc
	ch <- summaryMaxDesc
	ch <- summaryMinDesc
	ch <- summaryCountDesc
	ch <- summaryLatestDesc
}

// Collect implements prometheus.Collector.
func (c *SummaryCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.summary() {
		ch <- prometheus.MustNewConstMetric(summaryAvgDesc, prometheus.GaugeValue, s.Avg, name)
		ch <- prometheus.MustNewConstMetric(summaryMaxDesc, prometheus.GaugeValue, s.Max, name)
		ch <- prometheus.MustNewConstMetric(summaryMinDesc, prometheus.GaugeValue, s.Min, name)
		ch <- prometheus.MustNewConstMetric(summaryCountDesc, prometheus.GaugeValue, float64(s.Count), name)
		ch <- prometheus.MustNewConstMetric(summaryLatestDesc, prometheus.GaugeValue, s.Latest, name)
	}
}
