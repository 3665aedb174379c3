// Package supervisor launches the external crawl worker and keeps exactly one
// run alive at a time.
//
// A Supervisor owns a single worker process. It records every output line in
// a bounded ring and an append-only log file, classifies lines into progress
// events, stops the worker gracefully before falling back to a process-tree
// kill, and notices when the OS reports the worker gone. Snapshot values are
// immutable copies so callers never observe a half-applied transition.
package supervisor
