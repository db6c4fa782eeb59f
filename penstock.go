package penstock

import (
	"context"
	"io"
	"os"

	"github.com/jpuglielli/penstock/internal/dag"
	"github.com/jpuglielli/penstock/internal/flowctx"
	"github.com/jpuglielli/penstock/internal/registry"
	"github.com/jpuglielli/penstock/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	StepDefinition = api.StepDefinition
	FlowDefinition = api.FlowDefinition
	Backend        = api.Backend
	Span           = api.Span
	Attrs          = api.Attrs

	// Registry stores declared flows. A process normally wires exactly
	// one, via Default or NewRegistry.
	Registry = registry.Registry

	// FlowContext is the live correlation scope carried on a
	// context.Context: one correlation id plus a metadata map.
	FlowContext = flowctx.FlowContext
)

// Re-export sentinel errors for matching with errors.Is.

var (
	ErrFlowNotFound  = api.ErrFlowNotFound
	ErrNoActiveFlow  = api.ErrNoActiveFlow
	ErrStepConflict  = api.ErrStepConflict
	ErrCyclicFlow    = api.ErrCyclicFlow
	ErrUnknownStep   = api.ErrUnknownStep
	ErrNotRegistered = api.ErrNotRegistered
)

var defaultRegistry = registry.New()

// Default returns the process-wide registry. It is created once and lives
// for the process lifetime; Reset exists for test isolation.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry returns an independent registry, for processes that prefer
// explicit wiring over the package-level default.
func NewRegistry() *Registry {
	return registry.New()
}

// RegisterStep inserts one step definition into the default registry
// without going through a FlowBuilder. Predecessor references may point at
// steps registered later; Export validates that they resolved.
func RegisterStep(flow, step string, entrypoint bool, after []string, async bool) error {
	return defaultRegistry.Register(api.StepDefinition{
		Flow:       flow,
		Name:       step,
		Entrypoint: entrypoint,
		After:      after,
		Async:      async,
	})
}

// GetFlow returns the named flow from the default registry.
func GetFlow(name string) (FlowDefinition, error) {
	return defaultRegistry.GetFlow(name)
}

// Reset clears all flows from the default registry. Intended for test
// isolation only.
func Reset() {
	defaultRegistry.Reset()
}

// Export renders the named flow from the default registry as a mermaid
// graph description: one "pred --> step" line per declared edge, sorted
// lexicographically. It fails with ErrFlowNotFound for an unregistered
// name and with ErrUnknownStep if a forward reference never resolved.
func Export(name string) (string, error) {
	return ExportFrom(defaultRegistry, name)
}

// ExportFrom is Export against an explicit registry.
func ExportFrom(reg *Registry, name string) (string, error) {
	if err := reg.Validate(name); err != nil {
		return "", err
	}
	fd, err := reg.GetFlow(name)
	if err != nil {
		return "", err
	}
	return dag.Mermaid(fd), nil
}

// ExportTo writes Export output to w.
func ExportTo(w io.Writer, name string) error {
	diagram, err := Export(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, diagram)
	return err
}

// WriteFile writes Export output to the named file.
func WriteFile(path, name string) error {
	diagram, err := Export(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(diagram), 0o644)
}

// NewScope installs a fresh correlation scope on a child context. Most
// callers never need this directly — entrypoint handles open scopes — but
// integration adapters use it at their own boundaries, one scope per
// inbound unit of work.
func NewScope(ctx context.Context) context.Context {
	return flowctx.NewScope(ctx)
}

// Seed installs a scope carrying a correlation id received across a
// transport boundary (header, message attribute). An empty id falls back
// to a fresh one.
func Seed(ctx context.Context, id string) context.Context {
	return flowctx.Seed(ctx, id)
}

// Fork derives a child scope sharing the current correlation id with an
// independent copy of the metadata.
func Fork(ctx context.Context) context.Context {
	return flowctx.Fork(ctx)
}

// FromContext returns the active scope, if any.
func FromContext(ctx context.Context) (*FlowContext, bool) {
	return flowctx.From(ctx)
}

// CurrentID returns the active correlation id, or "" when no flow is
// active. It never fails; this is the source of truth for correlation
// queries regardless of the configured backend.
func CurrentID(ctx context.Context) string {
	return flowctx.CurrentID(ctx)
}

// SetValue stores a metadata value on the active scope, failing with
// ErrNoActiveFlow outside one.
func SetValue(ctx context.Context, key string, value any) error {
	return flowctx.SetValue(ctx, key, value)
}

// GetValue returns a metadata value from the active scope, or def when no
// flow is active or the key is absent. It never fails.
func GetValue(ctx context.Context, key string, def any) any {
	return flowctx.GetValue(ctx, key, def)
}
