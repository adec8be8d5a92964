// Package config loads the pulsewatch daemon configuration from config.yaml.
//
// Sections:
//   - server:  listener ports and API key auth (key resolved from key_env)
//   - monitor: ring buffer capacity, heartbeat intervals, lookback windows,
//     retention horizons, bottleneck and health thresholds
//   - alerts:  per-metric warning/critical thresholds, the error-rate
//     pattern rule, webhook targets (URLs resolved from url_env)
//   - scrape:  Prometheus text endpoints ingested as metrics
//
// Load(path) applies defaults before unmarshalling, then validates.
// Thresholds given in the file are merged over the built-in defaults.
// WatchThresholds reloads the file on change and hands the alert thresholds
// to the daemon when they differ, so they swap without a restart.
package config
