package treemem

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with memory-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// WithLevel adds a tree level field to the logger.
func (l *Logger) WithLevel(level int) *Logger {
	return &Logger{Logger: l.Logger.With("level", level)}
}

// WithDepth adds a tree depth field to the logger.
func (l *Logger) WithDepth(depth int) *Logger {
	return &Logger{Logger: l.Logger.With("depth", depth)}
}

// WithBatch adds a batch size field to the logger.
func (l *Logger) WithBatch(batch int) *Logger {
	return &Logger{Logger: l.Logger.With("batch", batch)}
}

// LogSetup logs a setup operation.
func (l *Logger) LogSetup(ctx context.Context, items, depth int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "setup failed",
			"items", items,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "setup completed",
			"items", items,
			"depth", depth,
		)
	}
}

// LogRetrieve logs a retrieve operation.
func (l *Logger) LogRetrieve(ctx context.Context, mode Mode, queries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retrieve failed",
			"mode", mode.String(),
			"queries", queries,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "retrieve completed",
			"mode", mode.String(),
			"queries", queries,
		)
	}
}

// LogCheckpoint logs a checkpoint save or load.
func (l *Logger) LogCheckpoint(ctx context.Context, op, id string, tensors int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint "+op+" failed",
			"id", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint "+op+" completed",
			"id", id,
			"tensors", tensors,
		)
	}
}
