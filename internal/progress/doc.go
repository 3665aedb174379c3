// Package progress carries structured crawl events from the supervisor to
// observers. Hub batches events on a background goroutine and fans each batch
// out to pluggable sinks (logs, Prometheus, run history, Pub/Sub, change
// detection) without ever blocking the output reader that produced them.
package progress
