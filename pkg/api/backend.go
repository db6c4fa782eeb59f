package api

import "context"

// Attrs carries arbitrary span attributes.
type Attrs map[string]any

// Span is a scoped recording handle opened by a Backend. End must be called
// exactly once per step invocation, on every exit path; err is the error
// the step returned (nil on success).
type Span interface {
	End(err error)
}

// Backend records spans for step and entrypoint invocations.
//
// Implementations should be fast and non-blocking; any I/O (log emission,
// network export) must happen off the caller's critical path so that span
// bookkeeping never delays flow execution. Span and CorrelationID must not
// panic: a backend failure must never prevent scope restoration.
type Backend interface {
	// Span opens a span for one invocation of step within flow. The
	// returned context carries any backend-specific span state and is the
	// context the step body runs under.
	Span(ctx context.Context, flow, step string, attrs Attrs) (context.Context, Span)

	// CorrelationID returns the backend's notion of the current
	// correlation identifier, used when the backend stamps its own
	// outgoing records. Empty means none.
	CorrelationID(ctx context.Context) string
}
