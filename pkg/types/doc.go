// Package types defines the domain types shared by every pulsewatch component:
// recorded metrics, alerts, aggregated window points and the typed metadata
// maps attached to alerts and executions.
//
// Values here are plain data. Metrics are immutable once recorded; of an
// Alert only Resolved changes after creation.
package types
