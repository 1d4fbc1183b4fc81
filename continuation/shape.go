package continuation

import "strings"

// Shape identifies the continuation dialect an adapter speaks. Adapters
// declare their shape at registration time; the builder never derives it
// from provider-name substrings.
type Shape string

const (
	// ShapeStructuredBlocks continues with tool-use / tool-result content
	// blocks in an explicit assistant/user message pair (Anthropic style).
	ShapeStructuredBlocks Shape = "structured_blocks"

	// ShapeFunctionCallPairs continues with functionCall / functionResponse
	// parts and the system instruction kept out of history (Google style).
	ShapeFunctionCallPairs Shape = "function_call_pairs"

	// ShapeStatefulResponseID continues by referencing the backend's own
	// server-side context through a prior response identifier.
	ShapeStatefulResponseID Shape = "stateful_response_id"

	// ShapeFlattenedHistory continues with a linear chat-completion message
	// list (generic OpenAI-compatible fallback).
	ShapeFlattenedHistory Shape = "flattened_history"
)

// Valid reports whether s is one of the four known shapes.
func (s Shape) Valid() bool {
	switch s {
	case ShapeStructuredBlocks, ShapeFunctionCallPairs, ShapeStatefulResponseID, ShapeFlattenedHistory:
		return true
	}
	return false
}

// ShapeForModel resolves the effective shape for a routed model. Gateways
// are transparent to tool-result formatting: when the model name embeds
// another vendor's namespace, the underlying family's shape wins.
func ShapeForModel(declared Shape, model string) Shape {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "anthropic/"):
		return ShapeStructuredBlocks
	case strings.Contains(lower, "google/"):
		return ShapeFunctionCallPairs
	}
	return declared
}
