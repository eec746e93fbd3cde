package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// Provider defines the interface for AI model providers (e.g., OpenAI).
// Implementations handle the specifics of communicating with a vendor while
// maintaining a consistent interface for the rest of the application.
type Provider interface {
	ChatCompletion(context.Context, CompletionParams) (<-chan StreamEvent, error)
}

// CompletionParams encapsulates all parameters needed for a chat completion
// request.
type CompletionParams struct {
	// RunID uniquely identifies this completion request for tracking and
	// event attribution. It is usually the job ID.
	RunID uuid.UUID

	// Instructions provide the system prompt for the model.
	Instructions string

	// Prompt is the user-role message the model responds to.
	Prompt string

	// Stream indicates whether to receive the response as a stream of
	// chunks. When false the channel carries a single Response (or Error).
	Stream bool

	// ResponseSchema, when set, asks the model to emit JSON conforming to
	// the schema.
	ResponseSchema *StructuredOutput

	// Model specifies which AI model to use for this completion.
	Model interface {
		Name() string
		Provider() Provider
	}

	// Prevents unkeyed literals
	_ struct{}
}

// StructuredOutput defines a schema for formatted model responses.
type StructuredOutput struct {
	// Name identifies this output format
	Name string

	// Description explains the purpose and usage of this format
	Description string

	// Schema defines the JSON structure that responses should follow
	Schema *jsonschema.Schema
}

// Structured Outputs uses a subset of JSON schema.
// These flags are necessary to comply with the subset.
var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// ToJSONSchema reflects a JSON schema for T suitable for structured output.
func ToJSONSchema[T any]() *jsonschema.Schema {
	var v T
	return reflector.Reflect(v)
}
