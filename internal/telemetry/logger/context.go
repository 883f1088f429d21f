// Package logger provides structured logging for vmsnap.
package logger

import "context"

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// loggerKey is the context key for the logger.
	loggerKey contextKey = "vmsnap.logger"
	// operationKey is the context key for the snapshot operation name.
	operationKey contextKey = "vmsnap.operation"
	// snapshotKey is the context key for the snapshot name.
	snapshotKey contextKey = "vmsnap.snapshot"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithOperation records the running snapshot operation (save, load, ...).
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// OperationFromContext extracts the operation name from context.
func OperationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return ""
}

// WithSnapshot records the snapshot an operation works on.
func WithSnapshot(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, snapshotKey, name)
}

// SnapshotFromContext extracts the snapshot name from context.
func SnapshotFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(snapshotKey).(string); ok {
		return name
	}
	return ""
}

// L is a shorthand for FromContext that also enriches the logger
// with the operation and snapshot name from the context.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)

	if op := OperationFromContext(ctx); op != "" {
		l = l.With("op", op)
	}
	if name := SnapshotFromContext(ctx); name != "" {
		l = l.With("snapshot", name)
	}

	return l
}
