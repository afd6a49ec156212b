// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, and an in-memory run status tracker served by the
// HTTP API. Each sink satisfies progress.Sink.
package sinks
