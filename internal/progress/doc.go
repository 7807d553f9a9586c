// Package progress carries bulk-search lifecycle events from the orchestrator
// to pluggable sinks. Emitters never block: events are buffered, batched on a
// background goroutine and fanned out to log, Prometheus and Pub/Sub sinks.
package progress
