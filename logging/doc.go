// Package logging provides a minimal logging interface and adapters for deckhand.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the loader, engine and server use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - DeckLogger with run-scoped context and model/action helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(loader, engine.WithLogger(logger))
//
// Log messages are dotted event names ("engine.run.start") with slog-style
// key/value attributes.
package logging
