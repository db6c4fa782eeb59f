// Package api defines the shared types of the penstock core: the flow
// model (StepDefinition, FlowDefinition), the pluggable span backend
// contract (Backend, Span), and the sentinel errors callers match with
// errors.Is. Most users import the root penstock package, which re-exports
// everything here.
package api
