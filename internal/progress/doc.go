// Package progress carries run lifecycle events from the supervisor and the
// notifier to pluggable sinks. Events are batched on a background goroutine so
// emitters never block on logging or metrics.
package progress
