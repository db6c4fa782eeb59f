package penstock

import (
	"context"
	"fmt"

	"github.com/jpuglielli/penstock/internal/flowctx"
	"github.com/jpuglielli/penstock/pkg/api"
)

// HandlerFunc is the body of a step or entrypoint.
type HandlerFunc func(ctx context.Context, input any) (any, error)

// StepRef names a predecessor in an After declaration: either a literal
// Name or a *Step handle returned earlier (or later) in the same block.
type StepRef interface {
	refName() string
}

// Name references a predecessor step by its declared name.
type Name string

func (n Name) refName() string { return string(n) }

// FlowBuilder declares a named flow as a block of entrypoints and steps:
//
//	b := penstock.New("order_processing")
//	validate := b.Entrypoint("validate_order", validateOrder)
//	charge := b.Step("charge_payment", chargePayment, penstock.After(validate))
//	reserve := b.Step("reserve_inventory", reserveInventory, penstock.After(validate))
//	b.Step("send_confirmation", sendConfirmation, penstock.After(charge, reserve))
//
//	if err := b.Register(penstock.Default()); err != nil {
//	    log.Fatal(err)
//	}
//
// After may reference steps declared later in the block; references are
// resolved when Register commits the whole block atomically. Until then
// the declared steps cannot be called.
type FlowBuilder struct {
	name       string
	steps      []*Step
	registered bool
}

// New creates a builder for the named flow.
func New(name string) *FlowBuilder {
	if name == "" {
		panic("penstock: flow name must not be empty")
	}
	return &FlowBuilder{name: name}
}

// FlowName returns the flow name.
func (b *FlowBuilder) FlowName() string {
	return b.name
}

// Step is a callable handle for one declared step. It implements StepRef,
// so handles double as After references.
type Step struct {
	b     *FlowBuilder
	name  string
	fn    HandlerFunc
	entry bool
	async bool
	after []StepRef
}

func (s *Step) refName() string { return s.name }

// StepName returns the step's declared name.
func (s *Step) StepName() string { return s.name }

// StepOption configures a declared step.
type StepOption func(*Step)

// After declares the step's predecessors.
func After(refs ...StepRef) StepOption {
	return func(s *Step) {
		s.after = append(s.after, refs...)
	}
}

// Async marks the step as one that suspends or schedules continuation
// work. The flag is topology metadata and a span attribute; it does not
// change how the step is invoked.
func Async() StepOption {
	return func(s *Step) {
		s.async = true
	}
}

// Entrypoint declares a step with no predecessors. Invoking its handle
// opens a fresh correlation scope for the duration of the call.
func (b *FlowBuilder) Entrypoint(name string, fn HandlerFunc, opts ...StepOption) *Step {
	return b.add(name, fn, true, opts)
}

// Step declares a mid-flow step. It must carry at least one After
// reference, and invoking its handle requires an active scope.
func (b *FlowBuilder) Step(name string, fn HandlerFunc, opts ...StepOption) *Step {
	return b.add(name, fn, false, opts)
}

func (b *FlowBuilder) add(name string, fn HandlerFunc, entry bool, opts []StepOption) *Step {
	if name == "" {
		panic("penstock: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("penstock: step %q has nil function", name))
	}
	s := &Step{b: b, name: name, fn: fn, entry: entry}
	for _, opt := range opts {
		opt(s)
	}
	b.steps = append(b.steps, s)
	return s
}

// Register resolves the block's After references and commits every step to
// reg atomically. Misdeclarations — an unresolved reference, an entrypoint
// with predecessors, a step without any, a self-reference, a cycle, or a
// conflict with a step already registered for this flow — fail here, and
// nothing is committed.
func (b *FlowBuilder) Register(reg *Registry) error {
	local := make(map[string]bool, len(b.steps))
	for _, s := range b.steps {
		local[s.name] = true
	}

	// Steps registered for this flow by earlier blocks also resolve
	// references; separate blocks merging into one flow is legal fan-in.
	existing := map[string]bool{}
	if fd, err := reg.GetFlow(b.name); err == nil {
		for name := range fd.Steps {
			existing[name] = true
		}
	}

	defs := make([]api.StepDefinition, 0, len(b.steps))
	for _, s := range b.steps {
		after := make([]string, 0, len(s.after))
		for _, ref := range s.after {
			name := ref.refName()
			if sr, ok := ref.(*Step); ok && sr.b != b {
				return fmt.Errorf("penstock: step %q in flow %q references step %q from flow %q",
					s.name, b.name, sr.name, sr.b.name)
			}
			if !local[name] && !existing[name] {
				return fmt.Errorf("penstock: step %q in flow %q references %q: %w",
					s.name, b.name, name, api.ErrUnknownStep)
			}
			after = append(after, name)
		}
		defs = append(defs, api.StepDefinition{
			Flow:       b.name,
			Name:       s.name,
			Entrypoint: s.entry,
			After:      after,
			Async:      s.async,
		})
	}

	if err := reg.RegisterAll(defs); err != nil {
		return err
	}
	b.registered = true
	return nil
}

// MustRegister is like Register but panics on error. Useful during
// initialization in main().
func (b *FlowBuilder) MustRegister(reg *Registry) {
	if err := b.Register(reg); err != nil {
		panic(err)
	}
}

// Call invokes the step's handler under a span.
//
// For an entrypoint, a fresh correlation scope is installed for the
// duration of the call; the caller's own scope (or absence of one) is
// untouched afterward, on every exit path. For a mid-flow step, the
// caller's ctx must carry an active scope or the call fails with
// ErrNoActiveFlow before the handler runs.
//
// Handler errors propagate unchanged after the span is closed.
func (s *Step) Call(ctx context.Context, input any) (any, error) {
	if !s.b.registered {
		return nil, fmt.Errorf("penstock: step %q in flow %q: %w", s.name, s.b.name, api.ErrNotRegistered)
	}
	if s.entry {
		ctx = flowctx.NewScope(ctx)
	} else if _, ok := flowctx.From(ctx); !ok {
		return nil, fmt.Errorf("penstock: step %q in flow %q called outside an entrypoint: %w",
			s.name, s.b.name, api.ErrNoActiveFlow)
	}
	return s.invoke(ctx, input)
}

func (s *Step) invoke(ctx context.Context, input any) (out any, err error) {
	var attrs api.Attrs
	if s.async {
		attrs = api.Attrs{"penstock.async": true}
	}
	ctx, span := CurrentBackend().Span(ctx, s.b.name, s.name, attrs)
	// Closed by defer so that panics and cancellation still record the
	// span before unwinding past it.
	defer func() { span.End(err) }()
	return s.fn(ctx, input)
}
