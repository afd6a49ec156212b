// Package progress defines the crawl lifecycle events emitted by the
// orchestrator and a non-blocking hub that batches them to pluggable sinks
// (structured logs, Prometheus, the status API).
package progress
