package api

import (
	"github.com/casualjim/delver/types"
)

// Agent is the core interface for the LLM-backed workers in the system
// (planner, reasoner). It defines the essential capabilities every agent
// must implement.
//
// Design decisions:
//   - Minimal interface: only what the runners need to drive a completion
//   - Immutable configuration: methods return values rather than allowing
//     runtime changes
//   - Flexible instruction rendering: instructions may be templates rendered
//     against per-job context variables
//
// The interface is implementation-agnostic so different kinds of agents
// (API-backed models, scripted fakes in tests) present the same surface.
type Agent interface {
	// Name returns the agent's unique identifier. The name is stable across
	// sessions and is used for logging and event attribution.
	Name() string

	// Model returns the configuration of the underlying AI model.
	Model() Model

	// Instructions returns the raw, unrendered system instructions.
	Instructions() string

	// RenderInstructions generates the agent's operational instructions using
	// the provided context variables. Returns an error when the template
	// references variables that are missing or the template is invalid.
	RenderInstructions(types.ContextVars) (string, error)
}
