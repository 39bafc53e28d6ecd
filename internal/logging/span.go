package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span represents a logical unit of work tied to a request trace.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child span from ctx. Optional attrs are attached to
// every record the span's logger emits.
func StartSpan(ctx context.Context, name string, attrs ...slog.Attr) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	parentSpanID := SpanIDFromContext(ctx)
	spanID := uuid.NewString()

	args := []any{slog.String("span_id", spanID), slog.String("span_name", name)}
	if parentSpanID != "" {
		args = append(args, slog.String("parent_span_id", parentSpanID))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	logger = logger.With(args...)

	ctx = WithLogger(ctx, logger)
	ctx = WithSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Elapsed reports the time since the span started.
func (s *Span) Elapsed() time.Duration {
	if s == nil {
		return 0
	}
	return time.Since(s.start)
}

// End emits a completion record at debug level.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Debug("span completed", slog.Duration("duration", s.Elapsed()))
}

// EndErr finishes the span, logging a warning when err is non-nil.
func (s *Span) EndErr(err error) {
	if s == nil {
		return
	}
	if err == nil {
		s.End()
		return
	}
	s.logger.Warn("span failed", slog.Duration("duration", s.Elapsed()), slog.Any("error", err))
}
