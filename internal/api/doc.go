// Package api hosts the HTTP server, middleware, and REST handlers for the
// matchday dashboard. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to queue a crawl, GET /v1/crawls/status for the
//     coordinator state and GET /v1/crawls/events for server-sent progress.
//   - GET /v1/leagues, /v1/leagues/{league_id}/matches and /v1/newsfeed for
//     dashboard reads, served through the cache when one is configured.
package api
