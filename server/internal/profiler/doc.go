// Package profiler tracks the lifetime of executions (units of work): start,
// nested function-call spans and end. Ending an execution emits its duration
// as a metric and flags it as a bottleneck, raising a WARNING alert, when it
// ran longer than the configured threshold.
//
// A profile only moves forward: active, then ended. Purging (Evict) removes
// it from the table. Unknown ids are logged no-ops on every path.
package profiler
