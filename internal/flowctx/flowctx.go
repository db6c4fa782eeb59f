// Package flowctx carries a correlation scope through a logical call chain.
//
// The scope rides on context.Context, so it follows the chain across
// goroutine handoff and asynchronous suspension exactly as far as the
// context is passed, and is invisible to unrelated chains. Restoring the
// prior scope is lexical: entering a scope derives a child context and the
// caller's own context is untouched on every exit path, including panics
// and cancellation.
package flowctx

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jpuglielli/penstock/pkg/api"
)

type ctxKey struct{}

// FlowContext is the live correlation scope: an opaque identifier unique
// per entrypoint invocation plus a metadata map shared by every step on the
// same chain.
//
// Metadata access is guarded so that deliberate fan-out under one
// entrypoint cannot corrupt the map; last-writer-wins on a contended key is
// the caller's problem.
type FlowContext struct {
	id string

	mu     sync.RWMutex
	values map[string]any
}

// newID returns 128 bits of entropy as 32 lowercase hex characters.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewScope installs a fresh scope with a new correlation id on a child
// context. Any scope already present is shadowed for the child's lifetime,
// never merged; the parent context still carries the outer scope.
func NewScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &FlowContext{
		id:     newID(),
		values: make(map[string]any),
	})
}

// Seed installs a scope carrying a correlation id received from another
// process. Adapters call this on the consuming side of a transport
// boundary. An empty id falls back to a fresh one.
func Seed(ctx context.Context, id string) context.Context {
	if id == "" {
		return NewScope(ctx)
	}
	return context.WithValue(ctx, ctxKey{}, &FlowContext{
		id:     id,
		values: make(map[string]any),
	})
}

// Fork derives a child scope that shares the current correlation id but
// owns an independent copy of the metadata, so mutations on either side
// stay invisible to the other. With no active scope it is equivalent to
// NewScope.
func Fork(ctx context.Context) context.Context {
	fc, ok := From(ctx)
	if !ok {
		return NewScope(ctx)
	}
	return context.WithValue(ctx, ctxKey{}, &FlowContext{
		id:     fc.id,
		values: fc.Values(),
	})
}

// From returns the active scope, if any.
func From(ctx context.Context) (*FlowContext, bool) {
	fc, ok := ctx.Value(ctxKey{}).(*FlowContext)
	return fc, ok
}

// CurrentID returns the active correlation id, or "" when no scope is
// active. It never fails.
func CurrentID(ctx context.Context) string {
	if fc, ok := From(ctx); ok {
		return fc.id
	}
	return ""
}

// SetValue stores a metadata value on the active scope. Writing outside
// any scope is a caller-ordering bug and fails with ErrNoActiveFlow.
func SetValue(ctx context.Context, key string, value any) error {
	fc, ok := From(ctx)
	if !ok {
		return fmt.Errorf("penstock: set %q: %w", key, api.ErrNoActiveFlow)
	}
	fc.Set(key, value)
	return nil
}

// GetValue returns a metadata value from the active scope, or def when no
// scope is active or the key is absent. It never fails.
func GetValue(ctx context.Context, key string, def any) any {
	fc, ok := From(ctx)
	if !ok {
		return def
	}
	return fc.Get(key, def)
}

// ID returns the scope's correlation id.
func (fc *FlowContext) ID() string { return fc.id }

// Get returns the value for key, or def if absent.
func (fc *FlowContext) Get(key string, def any) any {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	if v, ok := fc.values[key]; ok {
		return v
	}
	return def
}

// Set stores a value under key.
func (fc *FlowContext) Set(key string, value any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.values[key] = value
}

// Delete removes key from the metadata.
func (fc *FlowContext) Delete(key string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.values, key)
}

// Values returns a shallow snapshot of the metadata.
func (fc *FlowContext) Values() map[string]any {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	out := make(map[string]any, len(fc.values))
	for k, v := range fc.values {
		out[k] = v
	}
	return out
}
