package api

import "errors"

// Configuration errors are raised at declaration/registration time and are
// fatal to startup; runtime errors (ErrNoActiveFlow, ErrFlowNotFound) are
// returned to the caller and never papered over with implicit state.
var (
	// ErrFlowNotFound is returned by queries against a flow name that was
	// never registered.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrNoActiveFlow is returned when a step runs, or metadata is written,
	// outside any active flow scope. The core never creates an implicit
	// scope to hide the caller-ordering bug.
	ErrNoActiveFlow = errors.New("no active flow scope")

	// ErrStepConflict is returned when a step name is re-registered with a
	// definition that differs from the existing one.
	ErrStepConflict = errors.New("conflicting step registration")

	// ErrCyclicFlow is returned when a predecessor declaration closes a
	// cycle, including a step naming itself.
	ErrCyclicFlow = errors.New("cyclic step declaration")

	// ErrUnknownStep is returned when a predecessor reference never
	// resolves to a registered step in the same flow.
	ErrUnknownStep = errors.New("unknown step reference")

	// ErrNotRegistered is returned when a step handle is invoked before
	// its flow's declaration block was registered.
	ErrNotRegistered = errors.New("flow not registered")
)
