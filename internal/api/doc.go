// Package api hosts the status listener for operators. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the record store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/resorts, /v1/resorts/lookup?url= and /v1/runs for read-only inspection.
//   - GET /v1/patterns/{field} for the stored pattern bank of one field.
//   - POST /v1/crawl to start an ad-hoc run when a trigger is configured.
package api
