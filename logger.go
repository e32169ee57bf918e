package voroclust

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with the field names used across the
// clustering pipeline.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at Info is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable text logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that writes JSON logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// WithRun tags every record with the run id of an Execute call.
func (l *Logger) WithRun(id string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", id)}
}

// LogStage logs the completion of one pipeline stage.
func (l *Logger) LogStage(ctx context.Context, stage string, elapsed time.Duration, attrs ...any) {
	args := append([]any{"stage", stage, "seconds", elapsed.Seconds()}, attrs...)
	l.InfoContext(ctx, "stage completed", args...)
}

// LogViolation logs two clusters touching without a border sphere
// between them. Propagation keeps going.
func (l *Logger) LogViolation(node, neighbor, cluster, neighborCluster int) {
	l.Warn("two clusters connected directly, without border sphere",
		"node", node,
		"neighbor", neighbor,
		"cluster", cluster,
		"neighbor_cluster", neighborCluster,
	)
}
