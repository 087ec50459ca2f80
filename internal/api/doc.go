// Package api hosts the read-only status server started by `tenderwatch serve`.
// Notable routes:
//   - GET /healthz / readyz for probes; readyz touches the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs, /api/pending, /api/stats and /api/notifications report
//     the persisted state of one purpose via the StatusReader interface.
package api
