// Package cmd defines the matchday CLI.
//
// Architecture overview:
//   - crawl runs one session in the foreground: leagues come from the CSV named by crawler.leagues_file, windows
//     from flags or config, and the finished reports go through the same persistence hand-off the server uses.
//   - serve starts the HTTP API and the session coordinator. POST /v1/crawls queues a request; the coordinator runs
//     one session at a time with a fresh execution context pool and hands the reports to storage, artifacts,
//     Pub/Sub and the Redis cache.
//   - Configuration & plumbing: Viper populates config from MATCHDAY_* env vars and an optional file; zap provides
//     structured logging; Prometheus metrics are exported on /metrics.
//
// Operational notes:
//   - Both commands react to SIGINT/SIGTERM. serve stops accepting requests, lets the running session finish
//     within the shutdown window, then closes every service.
//   - Run locally: go run . crawl --config config.yaml --from 2025-03 --to 2025-05
package cmd
