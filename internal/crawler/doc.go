// Package crawler holds the shared vocabulary of the matchday crawler: league
// and window types, task specs and outcomes, match records, the error kinds
// tasks fail with, and the interfaces the pool, storage and delivery layers
// implement.
package crawler
