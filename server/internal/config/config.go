package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort = 50051
	DefaultHTTPPort = 8080

	DefaultBufferCapacity   = 10000
	DefaultCheckQueueSize   = 1024
	DefaultFastInterval     = time.Second
	DefaultSlowInterval     = 5 * time.Minute
	DefaultSummaryWindow    = time.Minute
	DefaultErrorWindow      = 5 * time.Minute
	DefaultRecentAlerts     = 5 * time.Minute
	DefaultActiveAlerts     = time.Hour
	DefaultProfileRetention = 24 * time.Hour
	DefaultAlertRetention   = 7 * 24 * time.Hour
	DefaultBottleneck       = 5 * time.Second
	DefaultUnderLoad        = 50
	DefaultDegradedErrors   = 5

	DefaultPatternMetric  = "error_rate"
	DefaultPatternSamples = 5
	DefaultPatternLimit   = 0.10

	DefaultScrapeInterval = 30 * time.Second
)

// Config is the full configuration parsed from config.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Scrape  ScrapeConfig  `yaml:"scrape"`
}

// ServerConfig holds the listener settings of the daemon.
type ServerConfig struct {
	// GRPCPort serves grpc.health.v1 (default 50051). Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the REST API, /ws/stream and /metrics (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures API key authentication for HTTP and gRPC clients.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header / gRPC metadata key carrying the key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// MonitorConfig sizes the in-memory structures and drives the heartbeats.
type MonitorConfig struct {
	// Enabled turns the whole subsystem on. When false, ingestion is a no-op
	// and queries return empty results.
	Enabled bool `yaml:"enabled"`

	// BufferCapacity is the fixed size of the metric ring buffer.
	BufferCapacity int `yaml:"buffer_capacity"`

	// CheckQueueSize bounds the pending per-record threshold checks.
	CheckQueueSize int `yaml:"check_queue_size"`

	// FastInterval drives pattern alerts, window aggregation and broadcasts.
	FastInterval time.Duration `yaml:"fast_interval"`

	// SlowInterval drives housekeeping sweeps.
	SlowInterval time.Duration `yaml:"slow_interval"`

	// SummaryWindow is the lookback of the metrics summary and pattern sweep.
	SummaryWindow time.Duration `yaml:"summary_window"`

	// ErrorWindow is the lookback used to count error samples for health.
	ErrorWindow time.Duration `yaml:"error_window"`

	// RecentAlertWindow is the lookback of the alert count in broadcast updates.
	RecentAlertWindow time.Duration `yaml:"recent_alert_window"`

	// ActiveAlertWindow is how long an unresolved alert counts as active.
	ActiveAlertWindow time.Duration `yaml:"active_alert_window"`

	ProfileRetention time.Duration `yaml:"profile_retention"`
	AlertRetention   time.Duration `yaml:"alert_retention"`

	// BottleneckThreshold marks an execution as slow_execution.
	BottleneckThreshold time.Duration `yaml:"bottleneck_threshold"`

	// UnderLoadExecutions is the active execution count above which the
	// system reports under_load.
	UnderLoadExecutions int `yaml:"under_load_executions"`

	// DegradedErrorSamples is the error sample count above which the system
	// reports degraded.
	DegradedErrorSamples int `yaml:"degraded_error_samples"`
}

// Threshold is a warning/critical pair for one metric name.
type Threshold struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// PatternConfig configures the mean-of-recent-samples alert.
type PatternConfig struct {
	Metric  string  `yaml:"metric"`
	Samples int     `yaml:"samples"`
	Limit   float64 `yaml:"limit"`
}

// AlertsConfig holds thresholds, the pattern rule and webhook delivery targets.
type AlertsConfig struct {
	Thresholds map[string]Threshold `yaml:"thresholds"`
	Pattern    PatternConfig        `yaml:"pattern"`
	Webhooks   []WebhookConfig      `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// MinLevel filters deliveries: info | warning | error | critical (default warning).
	MinLevel string `yaml:"min_level"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// ScrapeConfig lists Prometheus text endpoints whose samples are ingested.
type ScrapeConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Targets  []ScrapeTarget `yaml:"targets"`
}

// ScrapeTarget is one Prometheus exposition endpoint.
type ScrapeTarget struct {
	// ID is added to every ingested sample as the "source" tag.
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`

	// Prefix is prepended to every ingested metric name.
	Prefix string `yaml:"prefix"`

	// Include limits ingestion to these metric family names when non-empty.
	Include []string `yaml:"include"`

	// BearerEnv names an environment variable holding a bearer token.
	BearerEnv string `yaml:"bearer_env"`
}

// Token returns the bearer token resolved from the environment.
func (s ScrapeTarget) Token() string {
	if s.BearerEnv == "" {
		return ""
	}
	return os.Getenv(s.BearerEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	fillZero(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
		},
		Monitor: DefaultMonitor(),
		Alerts: AlertsConfig{
			Thresholds: DefaultThresholds(),
			Pattern: PatternConfig{
				Metric:  DefaultPatternMetric,
				Samples: DefaultPatternSamples,
				Limit:   DefaultPatternLimit,
			},
		},
		Scrape: ScrapeConfig{Interval: DefaultScrapeInterval},
	}
}

// DefaultMonitor returns the default monitor settings.
func DefaultMonitor() MonitorConfig {
	return MonitorConfig{
		Enabled:              true,
		BufferCapacity:       DefaultBufferCapacity,
		CheckQueueSize:       DefaultCheckQueueSize,
		FastInterval:         DefaultFastInterval,
		SlowInterval:         DefaultSlowInterval,
		SummaryWindow:        DefaultSummaryWindow,
		ErrorWindow:          DefaultErrorWindow,
		RecentAlertWindow:    DefaultRecentAlerts,
		ActiveAlertWindow:    DefaultActiveAlerts,
		ProfileRetention:     DefaultProfileRetention,
		AlertRetention:       DefaultAlertRetention,
		BottleneckThreshold:  DefaultBottleneck,
		UnderLoadExecutions:  DefaultUnderLoad,
		DegradedErrorSamples: DefaultDegradedErrors,
	}
}

// DefaultThresholds returns the built-in static thresholds.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"response_time_ms":  {Warning: 2000, Critical: 5000},
		"error_rate":        {Warning: 0.05, Critical: 0.1},
		"memory_usage_mb":   {Warning: 512, Critical: 1024},
		"cpu_usage_percent": {Warning: 80, Critical: 95},
	}
}

// fillZero restores defaults for fields explicitly set to zero values,
// e.g. "pattern: {metric: error_rate}" without samples.
func fillZero(cfg *Config) {
	if cfg.Alerts.Pattern.Metric == "" {
		cfg.Alerts.Pattern.Metric = DefaultPatternMetric
	}
	if cfg.Alerts.Pattern.Samples == 0 {
		cfg.Alerts.Pattern.Samples = DefaultPatternSamples
	}
	if cfg.Alerts.Pattern.Limit == 0 {
		cfg.Alerts.Pattern.Limit = DefaultPatternLimit
	}
	if cfg.Scrape.Interval == 0 {
		cfg.Scrape.Interval = DefaultScrapeInterval
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	m := cfg.Monitor
	if m.BufferCapacity <= 0 {
		return fmt.Errorf("monitor.buffer_capacity must be positive")
	}
	if m.CheckQueueSize <= 0 {
		return fmt.Errorf("monitor.check_queue_size must be positive")
	}
	if m.FastInterval <= 0 || m.SlowInterval <= 0 {
		return fmt.Errorf("monitor.fast_interval and monitor.slow_interval must be positive")
	}
	if m.ProfileRetention <= 0 || m.AlertRetention <= 0 {
		return fmt.Errorf("monitor retention periods must be positive")
	}

	for name, th := range cfg.Alerts.Thresholds {
		if th.Warning > th.Critical {
			return fmt.Errorf("alerts.thresholds.%s: warning %.4g above critical %.4g",
				name, th.Warning, th.Critical)
		}
	}
	if cfg.Alerts.Pattern.Samples < 1 {
		return fmt.Errorf("alerts.pattern.samples must be at least 1")
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d].type %q unknown: want teams|slack|pagerduty|http", i, wh.Type)
		}
	}

	seen := make(map[string]bool, len(cfg.Scrape.Targets))
	for i, tgt := range cfg.Scrape.Targets {
		if tgt.ID == "" || tgt.Endpoint == "" {
			return fmt.Errorf("scrape.targets[%d]: id and endpoint are required", i)
		}
		if seen[tgt.ID] {
			return fmt.Errorf("scrape.targets[%d]: duplicate id %q", i, tgt.ID)
		}
		seen[tgt.ID] = true
	}
	return nil
}
