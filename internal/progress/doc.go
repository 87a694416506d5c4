// Package progress carries crawl-session milestones from the session to
// observers. Emitting never blocks the crawl: events are buffered, batched on
// a background goroutine, and handed to sinks (logs, metrics, live streams).
package progress
