package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/config"
)

const exposition = `
# HELP http_requests_total Total HTTP requests.
# TYPE http_requests_total counter
http_requests_total{code="200"} 1027
http_requests_total{code="500"} 3

# HELP queue_depth Current queue depth.
# TYPE queue_depth gauge
queue_depth 42

# TYPE build_info untyped
build_info{version="1.2.3"} 1

# HELP request_duration_seconds Request latency.
# TYPE request_duration_seconds histogram
request_duration_seconds_bucket{le="0.1"} 2
request_duration_seconds_bucket{le="+Inf"} 4
request_duration_seconds_sum 2
request_duration_seconds_count 4

# HELP rpc_duration_seconds RPC latency.
# TYPE rpc_duration_seconds summary
rpc_duration_seconds{quantile="0.5"} 0.01
rpc_duration_seconds_sum 0
rpc_duration_seconds_count 0
`

type recorded struct {
	name  string
	value float64
	tags  map[string]string
	kind  types.MetricKind
}

type captureIngester struct {
	mu  sync.Mutex
	got []recorded
}

func (c *captureIngester) RecordMetric(name string, v float64, tags map[string]string, kind types.MetricKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, recorded{name, v, tags, kind})
}

func (c *captureIngester) byName() map[string][]recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]recorded)
	for _, r := range c.got {
		out[r.name] = append(out[r.name], r)
	}
	return out
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrape_ConvertsFamilies(t *testing.T) {
	srv := serve(t, exposition)
	ing := &captureIngester{}
	s := New(config.ScrapeTarget{ID: "app", Endpoint: srv.URL, Prefix: "app_"}, ing)

	n, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	// two counters, one gauge, one untyped, one histogram; the empty summary is skipped
	if n != 5 {
		t.Errorf("samples: got %d, want 5", n)
	}

	got := ing.byName()
	reqs := got["app_http_requests_total"]
	if len(reqs) != 2 || reqs[0].kind != types.KindCounter {
		t.Fatalf("http_requests_total: got %+v", reqs)
	}
	if reqs[0].tags["source"] != "app" || reqs[0].tags["code"] == "" {
		t.Errorf("tags: got %v", reqs[0].tags)
	}
	if q := got["app_queue_depth"]; len(q) != 1 || q[0].value != 42 || q[0].kind != types.KindGauge {
		t.Errorf("queue_depth: got %+v", q)
	}
	if b := got["app_build_info"]; len(b) != 1 || b[0].kind != types.KindGauge || b[0].tags["version"] != "1.2.3" {
		t.Errorf("build_info: got %+v", b)
	}
	if h := got["app_request_duration_seconds"]; len(h) != 1 || h[0].value != 0.5 || h[0].kind != types.KindHistogram {
		t.Errorf("request_duration_seconds: got %+v", h)
	}
	if _, ok := got["app_rpc_duration_seconds"]; ok {
		t.Error("summary with zero count should be skipped")
	}
}

func TestScrape_IncludeFilter(t *testing.T) {
	srv := serve(t, exposition)
	ing := &captureIngester{}
	s := New(config.ScrapeTarget{ID: "app", Endpoint: srv.URL, Include: []string{"queue_depth"}}, ing)

	n, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if n != 1 || ing.got[0].name != "queue_depth" {
		t.Errorf("got %d samples: %+v", n, ing.got)
	}
}

func TestScrape_BearerToken(t *testing.T) {
	t.Setenv("SCRAPE_TOKEN", "tok")
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte("up 1\n"))
	}))
	defer srv.Close()

	s := New(config.ScrapeTarget{ID: "app", Endpoint: srv.URL, BearerEnv: "SCRAPE_TOKEN"}, &captureIngester{})
	if _, err := s.Scrape(context.Background()); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if got := <-auth; got != "Bearer tok" {
		t.Errorf("Authorization: got %q, want Bearer tok", got)
	}
}

func TestScrape_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(config.ScrapeTarget{ID: "app", Endpoint: srv.URL}, &captureIngester{})
	_, err := s.Scrape(context.Background())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err: got %v, want unexpected status 503", err)
	}
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{{{ not prometheus")); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestRun_ScrapesImmediately(t *testing.T) {
	srv := serve(t, "up 1\n")
	ing := &captureIngester{}
	s := New(config.ScrapeTarget{ID: "app", Endpoint: srv.URL}, ing)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(ing.byName()["up"]) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if len(ing.byName()["up"]) != 1 {
		t.Errorf("up samples: got %d, want 1", len(ing.byName()["up"]))
	}
}
