// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz pings the stores.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queues/{name} to inspect a work queue without leasing.
//   - GET /v1/records/{namespace}[/keys/{key}|/fields/{field}] to read the
//     versioned record store.
package api
