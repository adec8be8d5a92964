package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
	"github.com/pulsewatch/pulsewatch/server/internal/metrics"
)

const defaultScrapeTimeout = 10 * time.Second

// Ingester records scraped samples.
type Ingester interface {
	RecordMetric(name string, value float64, tags map[string]string, kind types.MetricKind)
}

// Scraper polls one target.
type Scraper struct {
	target config.ScrapeTarget
	client *http.Client
	ing    Ingester
	log    *slog.Logger
}

// New returns a Scraper for target that records into ing.
func New(target config.ScrapeTarget, ing Ingester) *Scraper {
	return &Scraper{
		target: target,
		client: &http.Client{
			Transport: &bearerRoundTripper{base: http.DefaultTransport, token: target.Token()},
			Timeout:   defaultScrapeTimeout,
		},
		ing: ing,
		log: slog.Default().With("target", target.ID),
	}
}

// Scrape fetches the target once and records its samples. It returns the
// number of samples recorded.
func (s *Scraper) Scrape(ctx context.Context) (int, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.target.Endpoint)
	if err != nil {
		metrics.ScrapeFailures.WithLabelValues(s.target.ID).Inc()
		return 0, fmt.Errorf("scrape %q: %w", s.target.ID, err)
	}

	samples := convert(mfs, s.target)
	for _, smp := range samples {
		s.ing.RecordMetric(smp.name, smp.value, smp.tags, smp.kind)
	}
	metrics.ScrapeSamples.WithLabelValues(s.target.ID).Add(float64(len(samples)))
	return len(samples), nil
}

// Run scrapes immediately and then every interval until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	s.scrapeOnce(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.scrapeOnce(ctx)
		}
	}
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	n, err := s.Scrape(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("scrape: failed", "err", err)
		}
		return
	}
	s.log.Debug("scrape: samples recorded", "count", n)
}

// bearerRoundTripper injects the bearer token into every outgoing request.
type bearerRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse with at
// least one family is still a success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}
