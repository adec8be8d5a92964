// Package scrape ingests samples from Prometheus text exposition endpoints.
//
// Each configured target is polled on the scrape interval. Every sample is
// recorded through the monitor under "<prefix><family name>", with its
// labels as tags plus a "source" tag carrying the target id:
//
//	counter              → counter, value as exposed
//	gauge, untyped       → gauge, value as exposed
//	histogram, summary   → histogram, value = sum / count (skipped when count is 0)
//
// A failed scrape is logged and counted; it never stops the loop.
package scrape
