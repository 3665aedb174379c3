// Package sinks implements concrete progress consumers: structured logging,
// Prometheus, run history, Pub/Sub fan-out and change detection. Each sink
// satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
