// Package penstock correlates the work done under one logical operation.
//
// Applications declare the shape of their processing pipelines — which
// functions are entry points and which follow which — and every live
// invocation of a pipeline then carries a single correlation identifier
// through all the functions it triggers, so that independently-emitted
// trace and log records can be grouped into one logical operation after
// the fact. The declared graph is documentation and topology, not an
// execution scheduler: penstock never decides what runs next.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Registry
//  2. FlowBuilder
//  3. Step handles
//  4. Correlation scopes
//  5. Backends
//
// # Registry
//
// The Registry is the process-wide table of declared flows. Each flow
// accumulates step definitions monotonically: a step is never removed or
// mutated, re-registering an identical definition is a no-op, and a
// conflicting re-registration fails at declaration time. Misdeclarations —
// self-references, cycles, dangling predecessor names — are configuration
// errors raised during registration, never at call time.
//
// Most processes use the package-level Default registry; NewRegistry
// exists for explicit wiring.
//
// # FlowBuilder
//
// FlowBuilder declares one flow as a block:
//
//	b := penstock.New("order_processing")
//	validate := b.Entrypoint("validate_order", validateOrder)
//	charge := b.Step("charge_payment", chargePayment, penstock.After(validate))
//	reserve := b.Step("reserve_inventory", reserveInventory, penstock.After(validate))
//	b.Step("send_confirmation", sendConfirmation, penstock.After(charge, reserve))
//	b.MustRegister(penstock.Default())
//
// After references take either a *Step handle or a literal
// penstock.Name("x"), including forward references to steps declared later
// in the same block; the whole block commits atomically in Register.
// Multiple entrypoints may converge on a shared step — fan-in is a legal
// merge, not a conflict.
//
// # Step handles and correlation scopes
//
// Calling an entrypoint handle installs a fresh correlation scope — an
// opaque 128-bit identifier plus a metadata map — on the context its
// handler runs under. Nested steps reuse that scope; calling a mid-flow
// step without one fails with ErrNoActiveFlow rather than silently
// inventing a scope. Because the scope rides on context.Context, it
// follows the chain across goroutine handoff and asynchronous suspension
// exactly as far as the context is passed, and two concurrent entrypoint
// invocations each observe only their own scope. The caller's context is
// untouched on every exit path, including panics.
//
// Inside a chain:
//
//	penstock.CurrentID(ctx)            // correlation id, "" outside a flow
//	penstock.SetValue(ctx, "k", v)     // ErrNoActiveFlow outside a flow
//	penstock.GetValue(ctx, "k", def)   // def outside a flow or on a miss
//
// Integration adapters read CurrentID before crossing a transport boundary
// and call Seed with the received identifier on the other side.
//
// # Backends
//
// Every step invocation is recorded as a span through a pluggable Backend.
// Two implementations ship with the module: backends/logging emits
// structured log/slog records, and backends/otel emits OpenTelemetry
// spans. If nothing is configured explicitly, the OTel backend is selected
// when a real tracer provider is registered globally, otherwise logging;
// Configure overrides the probe.
//
// # DAG export
//
// Export renders a registered flow as a deterministic mermaid graph, one
// sorted "pred --> step" line per declared edge, suitable for embedding in
// documentation.
package penstock
