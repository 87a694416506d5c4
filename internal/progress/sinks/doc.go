// Package sinks holds the progress consumers: a zap printer, Prometheus
// counters, and a broadcast stream feeding server-sent events.
package sinks
