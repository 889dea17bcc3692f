// Package telemetry provides the logging abstraction used across the engine.
// Components log through the Logger interface so tests can run silent and
// production wires goa.design/clue/log. Metrics and traces are emitted by
// the Temporal OTEL interceptors configured in the schedule store adapter.
package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// Logger emits structured log messages with alternating key-value pairs.
type Logger interface {
	// Debug emits a debug-level log message with structured key-value pairs.
	Debug(ctx context.Context, msg string, keyvals ...any)
	// Info emits an info-level log message with structured key-value pairs.
	Info(ctx context.Context, msg string, keyvals ...any)
	// Warn emits a warning-level log message with structured key-value pairs.
	Warn(ctx context.Context, msg string, keyvals ...any)
	// Error emits an error-level log message for err with structured
	// key-value pairs.
	Error(ctx context.Context, err error, msg string, keyvals ...any)
}

type (
	// ClueLogger delegates to goa.design/clue/log. The logger reads
	// formatting and debug settings from the context (set via log.Context
	// and log.WithFormat/log.WithDebug).
	ClueLogger struct{}

	// NoopLogger discards all log messages. Use in tests.
	NoopLogger struct{}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger { return NoopLogger{} }

// Debug emits a debug-level log message.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info emits an info-level log message.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn emits a warning-level log message.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

// Error emits an error-level log message.
func (ClueLogger) Error(ctx context.Context, err error, msg string, keyvals ...any) {
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

// Debug discards the log message.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info discards the log message.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Warn discards the log message.
func (NoopLogger) Warn(context.Context, string, ...any) {}

// Error discards the log message.
func (NoopLogger) Error(context.Context, error, string, ...any) {}

// fielders converts a message plus variadic key-value pairs (k1, v1, k2,
// v2, ...) into clue's log.Fielder slice. Non-string keys are skipped; an
// odd trailing key is paired with nil.
func fielders(msg string, keyvals []any) []log.Fielder {
	fs := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, log.KV{K: k, V: v})
	}
	return fs
}
