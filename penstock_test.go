package penstock

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jpuglielli/penstock/pkg/api"
)

// recordingBackend captures span activity so tests can assert on it.
type recordingBackend struct {
	mu    sync.Mutex
	spans []*recordedSpan
}

type recordedSpan struct {
	flow, step, cid string
	attrs           api.Attrs
	ended           bool
	err             error
}

func (b *recordingBackend) Span(ctx context.Context, flow, step string, attrs api.Attrs) (context.Context, api.Span) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := &recordedSpan{flow: flow, step: step, cid: CurrentID(ctx), attrs: attrs}
	b.spans = append(b.spans, rs)
	return ctx, rs
}

func (b *recordingBackend) CorrelationID(ctx context.Context) string {
	return CurrentID(ctx)
}

func (rs *recordedSpan) End(err error) {
	rs.ended = true
	rs.err = err
}

func setup(t *testing.T) *recordingBackend {
	t.Helper()
	Reset()
	be := &recordingBackend{}
	Configure(be)
	t.Cleanup(func() {
		Reset()
		ResetBackend()
	})
	return be
}

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func passthrough(ctx context.Context, input any) (any, error) {
	return input, nil
}

func TestEntrypoint_OpensScopeAndRestores(t *testing.T) {
	setup(t)

	var seen string
	b := New("scoped")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		seen = CurrentID(ctx)
		return nil, nil
	})
	if err := b.Register(Default()); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if _, err := start.Call(ctx, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !hexID.MatchString(seen) {
		t.Fatalf("correlation id inside entrypoint: %q", seen)
	}
	if got := CurrentID(ctx); got != "" {
		t.Fatalf("scope leaked to caller: %q", got)
	}
}

func TestEntrypoint_RestoresOnError(t *testing.T) {
	be := setup(t)

	boom := errors.New("boom")
	b := New("erroring")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		return nil, boom
	})
	b.MustRegister(Default())

	_, err := start.Call(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("handler error not propagated: %v", err)
	}
	if len(be.spans) != 1 || !be.spans[0].ended || be.spans[0].err != boom {
		t.Fatalf("span not closed with handler error: %+v", be.spans)
	}
}

func TestEntrypoint_ClosesSpanOnPanic(t *testing.T) {
	be := setup(t)

	b := New("panicking")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		panic("kaboom")
	})
	b.MustRegister(Default())

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic did not propagate")
			}
		}()
		_, _ = start.Call(context.Background(), nil)
	}()

	if len(be.spans) != 1 || !be.spans[0].ended {
		t.Fatalf("span not closed on panic: %+v", be.spans)
	}
}

func TestNestedEntrypoints_ShadowAndRestore(t *testing.T) {
	setup(t)

	inner := New("inner")
	innerStart := inner.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		return CurrentID(ctx), nil
	})
	inner.MustRegister(Default())

	var outerBefore, outerAfter, innerID string
	outer := New("outer")
	outerStart := outer.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		outerBefore = CurrentID(ctx)
		out, err := innerStart.Call(ctx, nil)
		if err != nil {
			return nil, err
		}
		innerID = out.(string)
		outerAfter = CurrentID(ctx)
		return nil, nil
	})
	outer.MustRegister(Default())

	if _, err := outerStart.Call(context.Background(), nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if innerID == outerBefore {
		t.Fatalf("nested entrypoint reused outer id %q", innerID)
	}
	if outerAfter != outerBefore {
		t.Fatalf("outer id not restored: before=%q after=%q", outerBefore, outerAfter)
	}
}

func TestStep_RequiresActiveScope(t *testing.T) {
	setup(t)

	b := New("needs_scope")
	b.Entrypoint("start", passthrough)
	mid := b.Step("mid", passthrough, After(Name("start")))
	b.MustRegister(Default())

	_, err := mid.Call(context.Background(), nil)
	if !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("want ErrNoActiveFlow, got %v", err)
	}
}

func TestStep_ReusesEntrypointScope(t *testing.T) {
	be := setup(t)

	b := New("chained")
	var mid *Step
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		return mid.Call(ctx, input)
	})
	mid = b.Step("mid", func(ctx context.Context, input any) (any, error) {
		return CurrentID(ctx), nil
	}, After(Name("start")))
	b.MustRegister(Default())

	out, err := start.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(be.spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(be.spans))
	}
	if be.spans[0].cid != be.spans[1].cid || be.spans[1].cid != out.(string) {
		t.Fatalf("step did not reuse the entrypoint scope: %+v", be.spans)
	}
}

func TestStep_BeforeRegister(t *testing.T) {
	setup(t)

	b := New("unregistered")
	start := b.Entrypoint("start", passthrough)

	_, err := start.Call(context.Background(), nil)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("want ErrNotRegistered, got %v", err)
	}
}

func TestStep_CancellationStillClosesSpan(t *testing.T) {
	be := setup(t)

	b := New("cancelled")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b.MustRegister(Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := start.Call(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(be.spans) != 1 || !be.spans[0].ended || !errors.Is(be.spans[0].err, context.Canceled) {
		t.Fatalf("span not closed with cancellation error: %+v", be.spans)
	}
}

func TestAsyncStep_SpanAttribute(t *testing.T) {
	be := setup(t)

	b := New("asyncish")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		done := make(chan any, 1)
		go func() {
			// Continuation work on the same chain still sees the scope.
			done <- CurrentID(ctx)
		}()
		return <-done, nil
	}, Async())
	b.MustRegister(Default())

	out, err := start.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !hexID.MatchString(out.(string)) {
		t.Fatalf("scope not visible across suspension: %q", out)
	}
	if be.spans[0].attrs["penstock.async"] != true {
		t.Fatalf("async attribute missing: %+v", be.spans[0].attrs)
	}
}

func TestMetadata_Contract(t *testing.T) {
	setup(t)

	b := New("meta")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		if err := SetValue(ctx, "k", "v"); err != nil {
			return nil, err
		}
		if got := GetValue(ctx, "k", "default"); got != "v" {
			t.Errorf("get after set: %v", got)
		}
		if got := GetValue(ctx, "missing", 42); got != 42 {
			t.Errorf("get missing: %v", got)
		}
		return nil, nil
	})
	b.MustRegister(Default())

	if _, err := start.Call(context.Background(), nil); err != nil {
		t.Fatalf("call: %v", err)
	}

	// Outside any chain: set fails, get returns the default.
	if err := SetValue(context.Background(), "k", "v"); !errors.Is(err, ErrNoActiveFlow) {
		t.Fatalf("want ErrNoActiveFlow, got %v", err)
	}
	if got := GetValue(context.Background(), "k", "fallback"); got != "fallback" {
		t.Fatalf("get outside scope: %v", got)
	}
}

func TestConcurrentEntrypoints_IsolatedScopes(t *testing.T) {
	setup(t)

	b := New("concurrent")
	start := b.Entrypoint("start", func(ctx context.Context, input any) (any, error) {
		if err := SetValue(ctx, "n", input); err != nil {
			return nil, err
		}
		return GetValue(ctx, "n", nil), nil
	})
	b.MustRegister(Default())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := start.Call(context.Background(), i)
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if out != i {
				t.Errorf("chain %d observed foreign metadata %v", i, out)
			}
		}(i)
	}
	wg.Wait()
}

func TestRegisterStep_IdempotentAndConflicting(t *testing.T) {
	setup(t)

	if err := RegisterStep("dup", "start", true, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterStep("dup", "start", true, nil, false); err != nil {
		t.Fatalf("identical re-registration must be a no-op: %v", err)
	}
	err := RegisterStep("dup", "start", false, []string{"other"}, false)
	if !errors.Is(err, ErrStepConflict) {
		t.Fatalf("want ErrStepConflict, got %v", err)
	}
}

func TestExport_OrderProcessingScenario(t *testing.T) {
	setup(t)

	b := New("order_processing")
	validate := b.Entrypoint("validate_order", passthrough)
	charge := b.Step("charge_payment", passthrough, After(validate))
	reserve := b.Step("reserve_inventory", passthrough, After(validate))
	b.Step("send_confirmation", passthrough, After(charge, reserve))
	b.MustRegister(Default())

	out, err := Export("order_processing")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := `graph TD
    charge_payment --> send_confirmation
    reserve_inventory --> send_confirmation
    validate_order --> charge_payment
    validate_order --> reserve_inventory
`
	if out != want {
		t.Fatalf("export mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestExport_FanInFromTwoEntrypoints(t *testing.T) {
	setup(t)

	b := New("gateway")
	apiReq := b.Entrypoint("api_request", passthrough)
	admin := b.Entrypoint("admin_action", passthrough)
	b.Step("validate", passthrough, After(apiReq, admin))
	b.MustRegister(Default())

	out, err := Export("gateway")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := `graph TD
    admin_action --> validate
    api_request --> validate
`
	if out != want {
		t.Fatalf("export mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestExport_FanInAcrossDeclarationBlocks(t *testing.T) {
	setup(t)

	a := New("merged")
	a.Entrypoint("api_request", passthrough)
	a.MustRegister(Default())

	b := New("merged")
	b.Entrypoint("admin_action", passthrough)
	b.Step("validate", passthrough, After(Name("api_request"), Name("admin_action")))
	b.MustRegister(Default())

	out, err := Export("merged")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "admin_action --> validate") || !strings.Contains(out, "api_request --> validate") {
		t.Fatalf("merged flow missing edges:\n%s", out)
	}
}

func TestExport_NotFound(t *testing.T) {
	setup(t)

	if _, err := Export("never_registered"); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("want ErrFlowNotFound, got %v", err)
	}
}

func TestExport_UnresolvedForwardReference(t *testing.T) {
	setup(t)

	if err := RegisterStep("dangling", "start", true, nil, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterStep("dangling", "late", false, []string{"never_declared"}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := Export("dangling"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("want ErrUnknownStep, got %v", err)
	}
}

func TestExportTo_WritesDiagram(t *testing.T) {
	setup(t)

	b := New("writable")
	start := b.Entrypoint("start", passthrough)
	b.Step("next", passthrough, After(start))
	b.MustRegister(Default())

	var sb strings.Builder
	if err := ExportTo(&sb, "writable"); err != nil {
		t.Fatalf("export to: %v", err)
	}
	if !strings.HasPrefix(sb.String(), "graph TD\n") {
		t.Fatalf("unexpected diagram: %q", sb.String())
	}
}
