// Package logging provides the zero-extra-dependency span backend that
// emits structured log records through log/slog.
package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpuglielli/penstock/internal/flowctx"
	"github.com/jpuglielli/penstock/pkg/api"
)

// Backend writes a step.start record when a span opens and a step.end
// record when it closes, carrying flow, step, correlation id, duration and
// the step error (if any).
type Backend struct {
	Logger *slog.Logger
}

// New creates a logging backend. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{Logger: logger}
}

// Span implements api.Backend.
func (b *Backend) Span(ctx context.Context, flow, step string, attrs api.Attrs) (context.Context, api.Span) {
	base := make([]any, 0, 3+len(attrs))
	base = append(base,
		slog.String("flow", flow),
		slog.String("step", step),
		slog.String("correlation_id", b.CorrelationID(ctx)),
	)
	for k, v := range attrs {
		base = append(base, slog.Any(k, v))
	}

	b.Logger.Log(ctx, slog.LevelInfo, "step.start", base...)
	return ctx, &span{
		backend: b,
		ctx:     ctx,
		base:    base,
		start:   time.Now(),
	}
}

// CorrelationID defers to the context engine; the scope's id is the source
// of truth for log stamping. Empty when no flow is active.
func (b *Backend) CorrelationID(ctx context.Context) string {
	return flowctx.CurrentID(ctx)
}

type span struct {
	backend *Backend
	ctx     context.Context
	base    []any
	start   time.Time
}

func (s *span) End(err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	args := make([]any, 0, len(s.base)+2)
	args = append(args, s.base...)
	args = append(args,
		slog.Duration("duration", time.Since(s.start)),
		slog.Any("error", err),
	)
	s.backend.Logger.Log(s.ctx, level, "step.end", args...)
}
