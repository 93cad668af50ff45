// Package helper provides testing utilities for the realtime database client.
//
// It contains spies for the observability interfaces (slog handler, metrics, tracing, contextual logger)
// and recorders for change events and stream state transitions, used across the client test suites.
package helper
