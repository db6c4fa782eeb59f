// Package registry holds the process-wide table of declared flows.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jpuglielli/penstock/pkg/api"
)

// Registry maps flow names to their accumulated step definitions.
//
// Registration happens during program initialization and is expected to be
// low-contention, but concurrent registration into different flows must not
// corrupt the table, so all mutation runs under a single mutex held only
// for the duration of one insert.
type Registry struct {
	mu    sync.Mutex
	flows map[string]*flowEntry
}

type flowEntry struct {
	order []string
	steps map[string]api.StepDefinition
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{flows: make(map[string]*flowEntry)}
}

// Register inserts one step definition, creating the flow on first use.
//
// Re-registering an identical definition is a no-op. A conflicting
// re-registration, an entrypoint with predecessors, a non-entrypoint
// without predecessors, a self-reference, or a predecessor declaration that
// closes a cycle against the steps registered so far all fail; these are
// configuration errors and fatal to startup.
//
// Predecessor names that do not resolve yet are allowed (forward
// references); they must be satisfied before the flow is exported, which
// Validate checks.
func (r *Registry) Register(def api.StepDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(def)
}

// RegisterAll inserts a declaration block all-or-nothing: either every
// definition commits or the registry is left untouched. Flow builders use
// this so a bad block cannot leave a half-registered flow behind.
func (r *Registry) RegisterAll(defs []api.StepDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Stage against copies of the touched flows, commit only on success.
	saved := make(map[string]*flowEntry)
	for _, def := range defs {
		if _, ok := saved[def.Flow]; ok {
			continue
		}
		saved[def.Flow] = r.flows[def.Flow]
		if fe := r.flows[def.Flow]; fe != nil {
			r.flows[def.Flow] = fe.clone()
		}
	}
	for _, def := range defs {
		if err := r.register(def); err != nil {
			for name, fe := range saved {
				if fe == nil {
					delete(r.flows, name)
				} else {
					r.flows[name] = fe
				}
			}
			return err
		}
	}
	return nil
}

// register does the work of Register; r.mu must be held.
func (r *Registry) register(def api.StepDefinition) error {
	if def.Flow == "" {
		return fmt.Errorf("penstock: step %q has empty flow name", def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("penstock: flow %q has step with empty name", def.Flow)
	}
	if def.Entrypoint && len(def.After) > 0 {
		return fmt.Errorf("penstock: entrypoint %q in flow %q declares predecessors", def.Name, def.Flow)
	}
	if !def.Entrypoint && len(def.After) == 0 {
		return fmt.Errorf("penstock: step %q in flow %q has no predecessors and is not an entrypoint", def.Name, def.Flow)
	}

	def.After = dedupe(def.After)
	for _, a := range def.After {
		if a == def.Name {
			return fmt.Errorf("penstock: step %q in flow %q names itself as predecessor: %w",
				def.Name, def.Flow, api.ErrCyclicFlow)
		}
	}

	fe := r.flows[def.Flow]
	if fe == nil {
		fe = &flowEntry{steps: make(map[string]api.StepDefinition)}
		r.flows[def.Flow] = fe
	}

	if existing, ok := fe.steps[def.Name]; ok {
		if existing.Equal(def) {
			return nil
		}
		return fmt.Errorf("penstock: step %q in flow %q: %w", def.Name, def.Flow, api.ErrStepConflict)
	}

	// A cycle can only close on the insert that adds its last edge, so an
	// incremental check against the edges known so far is sufficient.
	if from := fe.findCycle(def); from != "" {
		return fmt.Errorf("penstock: step %q in flow %q closes a cycle through %q: %w",
			def.Name, def.Flow, from, api.ErrCyclicFlow)
	}

	fe.order = append(fe.order, def.Name)
	fe.steps[def.Name] = def
	return nil
}

func (fe *flowEntry) clone() *flowEntry {
	c := &flowEntry{
		order: append([]string(nil), fe.order...),
		steps: make(map[string]api.StepDefinition, len(fe.steps)),
	}
	for k, v := range fe.steps {
		c.steps[k] = v
	}
	return c
}

// findCycle reports whether def.Name is reachable from itself through the
// predecessor edges of def plus the already-registered steps. It returns
// the predecessor of def through which the cycle closes, or "".
func (fe *flowEntry) findCycle(def api.StepDefinition) string {
	for _, start := range def.After {
		visited := map[string]bool{def.Name: true}
		stack := []string{start}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n == def.Name {
				return start
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			if s, ok := fe.steps[n]; ok {
				stack = append(stack, s.After...)
			}
		}
	}
	return ""
}

// GetFlow returns a snapshot of the named flow, or ErrFlowNotFound.
func (r *Registry) GetFlow(name string) (api.FlowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fe, ok := r.flows[name]
	if !ok {
		return api.FlowDefinition{}, fmt.Errorf("penstock: flow %q: %w", name, api.ErrFlowNotFound)
	}

	fd := api.FlowDefinition{
		Name:  name,
		Order: append([]string(nil), fe.order...),
		Steps: make(map[string]api.StepDefinition, len(fe.steps)),
	}
	for _, n := range fe.order {
		s := fe.steps[n]
		fd.Steps[n] = s
		if s.Entrypoint {
			fd.Entrypoints = append(fd.Entrypoints, n)
		}
	}
	return fd, nil
}

// FlowNames returns the names of all registered flows, sorted.
func (r *Registry) FlowNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.flows))
	for n := range r.flows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate verifies that every predecessor reference in the named flow
// resolves to a registered step. Forward references left dangling after a
// declaration block completes surface here.
func (r *Registry) Validate(name string) error {
	fd, err := r.GetFlow(name)
	if err != nil {
		return err
	}
	for _, n := range fd.Order {
		for _, a := range fd.Steps[n].After {
			if _, ok := fd.Steps[a]; !ok {
				return fmt.Errorf("penstock: step %q in flow %q references %q: %w",
					n, name, a, api.ErrUnknownStep)
			}
		}
	}
	return nil
}

// Reset removes all registered flows. Intended for test isolation; callers
// serialize around it so no registrations are in flight.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = make(map[string]*flowEntry)
}

func dedupe(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
