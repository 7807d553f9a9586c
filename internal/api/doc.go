// Package api hosts the HTTP server, middleware, and REST handlers for the
// POI search service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/poi/search for a single upstream page.
//   - POST /api/bulk-search and GET /api/bulk-search/{keyword} to start jobs.
//   - GET /api/task/{id}, /api/tasks/... for job progress.
//   - GET /api/saved-... for persisted aggregates.
//   - GET /api/regions, /api/cities, /api/province-cities for the region table.
//
// Every /api response uses the {code, data, message} envelope.
package api
