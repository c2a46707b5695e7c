package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one handled event or request step. Spans started from the same
// context share a trace id.
type Span struct {
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child span from ctx and returns a context whose logger
// carries trace_id, span_id and span_name.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := FromContext(ctx)

	traceID := stringFrom(ctx, traceIDKey)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = withString(ctx, traceIDKey, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	spanID := uuid.NewString()
	attrs := []any{slog.String("span_id", spanID), slog.String("span_name", name)}
	if parent := stringFrom(ctx, spanIDKey); parent != "" {
		attrs = append(attrs, slog.String("parent_span_id", parent))
	}
	logger = logger.With(attrs...)

	ctx = withString(ctx, spanIDKey, spanID)
	ctx = WithLogger(ctx, logger)
	return ctx, &Span{logger: logger, start: time.Now()}
}

// End logs the span duration. A non-nil err marks the span as failed.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	elapsed := slog.Duration("duration", time.Since(s.start))
	if err != nil {
		s.logger.Warn("span failed", elapsed, slog.Any("error", err))
		return
	}
	s.logger.Debug("span completed", elapsed)
}

// TraceIDFromContext returns the trace id set by StartSpan.
func TraceIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, traceIDKey)
}

// SpanIDFromContext returns the id of the innermost span.
func SpanIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, spanIDKey)
}
