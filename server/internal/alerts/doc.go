// Package alerts raises, stores and delivers alerts.
//
// Two paths create alerts: static warning/critical thresholds evaluated per
// recorded metric (CheckThreshold) and a pattern rule evaluated on every
// fast heartbeat over the mean of the newest samples of one metric
// (SweepPatterns). Every created alert is handed to the Publisher at once
// and queued for webhook delivery to Teams, Slack, PagerDuty or generic HTTP
// targets. Repeated breaches raise repeated alerts; nothing is coalesced.
package alerts
