// Package api hosts the ops HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readiness pings the frontier store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status and /v1/status/{name} for populator state.
package api
