// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape/start, /v1/scrape/stop and /v1/scrape/cleanup to drive
//     the worker; GET /v1/scrape/status, /v1/scrape/stats and the
//     /v1/scrape/stream SSE feed to watch it.
//   - GET /v1/sites, /v1/sites/{site}/changes and /v1/sites/{site}/aggregate,
//     POST /v1/sites/{site}/pages/observe for change detection.
//   - GET /v1/runs and /v1/runs/{run_id} for run history.
package api
