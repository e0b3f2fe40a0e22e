// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawl service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls and /v1/crawls/upload to start crawls.
//   - GET /v1/crawls/{crawl_id}/status and POST .../stop for a single crawl.
//   - GET /v1/crawls/history and POST /v1/crawls/cleanup for stored crawls.
package api
