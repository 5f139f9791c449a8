package events

import (
	"context"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	jobIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// FromContextOr extracts logger from context, or returns fallback when none is attached.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return fallback
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithJobID adds job ID to context.
func WithJobID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("job_id", id)
	ctx = context.WithValue(ctx, jobIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetJobID retrieves job ID from context.
func GetJobID(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = NewNopLogger()

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
