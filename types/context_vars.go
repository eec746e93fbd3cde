// Package types provides core type definitions used throughout delver.
package types

import json "github.com/goccy/go-json"

// ContextVars represents a key-value store of context variables used for
// template rendering. Agent instructions may reference these values through
// template substitution, which allows customizing prompts per job without
// redefining the agent.
//
// Common use cases include:
//   - Passing the research query and constraints to agents
//   - Budgets such as maximum result counts
//   - Environment-specific settings
//
// Example usage:
//
//	vars := types.ContextVars{
//	    "query":       "solid state battery production 2025",
//	    "max_results": 8,
//	}
//
// Thread safety: ContextVars is a map type and is not safe for concurrent
// modification. Callers that mutate variables during execution must provide
// their own synchronization.
type ContextVars map[string]any

// String returns a JSON string representation of the ContextVars.
// If marshaling fails, it returns an empty string.
func (cv ContextVars) String() string {
	jsonData, err := json.Marshal(cv)
	if err != nil {
		return ""
	}
	return string(jsonData)
}
