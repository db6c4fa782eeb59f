package api

// StepDefinition describes one declared step within a flow.
//
// Identity is (Flow, Name). After holds the names of the step's declared
// predecessors; it is empty exactly when Entrypoint is true. Async is
// topology metadata marking steps that suspend (schedule continuation work
// on another goroutine) — it does not change how the step is invoked.
type StepDefinition struct {
	Flow       string
	Name       string
	Entrypoint bool
	After      []string
	Async      bool
}

// Equal reports whether two definitions describe the same step identically.
// After is compared as a set; declaration order does not matter.
func (d StepDefinition) Equal(o StepDefinition) bool {
	if d.Flow != o.Flow || d.Name != o.Name ||
		d.Entrypoint != o.Entrypoint || d.Async != o.Async {
		return false
	}
	if len(d.After) != len(o.After) {
		return false
	}
	seen := make(map[string]bool, len(d.After))
	for _, a := range d.After {
		seen[a] = true
	}
	for _, a := range o.After {
		if !seen[a] {
			return false
		}
	}
	return true
}

// FlowDefinition is the resolved model of a complete flow.
//
// Order preserves first-registration order of step names; Steps indexes the
// same definitions by name. Entrypoints lists the steps with no predecessors.
type FlowDefinition struct {
	Name        string
	Order       []string
	Steps       map[string]StepDefinition
	Entrypoints []string
}
