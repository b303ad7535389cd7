// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/imports to run a batch, streaming progress as NDJSON.
//   - GET /v1/imports, /v1/imports/{batch_id} and /v1/imports/{batch_id}/items
//     for run history via the store.RunRepository interface.
package api
