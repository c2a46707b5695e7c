// Package logging carries a request- or connection-scoped slog.Logger and the
// identifiers attached to it through a context.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	traceIDKey
	spanIDKey
	userIDKey
	connIDKey
)

// WithLogger stores the provided logger on the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the scoped logger or falls back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithRequestID stores an HTTP request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves a previously stored request identifier.
func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithUser records the authenticated user and adds user_id to the logger.
// A repeated call with the same user leaves the logger untouched.
func WithUser(ctx context.Context, userID string) context.Context {
	return withTagged(ctx, userIDKey, "user_id", userID)
}

// UserFromContext returns the user recorded by WithUser.
func UserFromContext(ctx context.Context) string {
	return stringFrom(ctx, userIDKey)
}

// WithConnection records the realtime connection serving the work and adds
// conn_id to the logger.
func WithConnection(ctx context.Context, connID string) context.Context {
	return withTagged(ctx, connIDKey, "conn_id", connID)
}

// ConnectionFromContext returns the connection recorded by WithConnection.
func ConnectionFromContext(ctx context.Context) string {
	return stringFrom(ctx, connIDKey)
}

func withTagged(ctx context.Context, key ctxKey, attr, value string) context.Context {
	if ctx == nil || value == "" || stringFrom(ctx, key) == value {
		return ctx
	}
	ctx = withString(ctx, key, value)
	return WithLogger(ctx, FromContext(ctx).With(slog.String(attr, value)))
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil || value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
