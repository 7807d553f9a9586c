// Package sinks implements progress consumers: structured logging,
// Prometheus job metrics and a publisher that forwards events to a topic.
package sinks
