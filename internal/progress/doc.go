// Package progress carries batch lifecycle events from the dispatcher to
// observability sinks. Emitters never block: the Hub buffers events, groups
// them on a background goroutine and hands each group to every registered
// Sink (logs, Prometheus, the run repository).
package progress
