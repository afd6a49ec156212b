// Package api hosts the status server, its middleware, and the read-only run
// endpoints. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/latest and /v1/runs/{run_id} for run snapshots.
//   - POST /v1/runs/stop to request a cooperative stop.
package api
