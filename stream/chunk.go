package stream

// Usage holds token accounting for one stream segment. Figures are the
// latest known values for that segment, not a running turn total.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallDelta is one tool-call fragment as reported by a provider.
// ArgumentsDelta is concatenated onto previous fragments with the same
// Index; it is not required to be valid JSON on its own.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Chunk is the normalized unit every provider adapter produces: one
// increment of a streaming response.
type Chunk struct {
	// Content is text produced since the last chunk, possibly empty.
	Content string `json:"content"`

	// ToolCalls holds tool-call fragments reported with this chunk.
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`

	// ToolCallsReady is true once the provider guarantees the accumulated
	// tool-call argument payloads are syntactically complete.
	ToolCallsReady bool `json:"tool_calls_ready,omitempty"`

	// Complete marks the final chunk of the current stream segment.
	Complete bool `json:"complete"`

	// Usage carries token accounting when the provider reports it.
	Usage *Usage `json:"usage,omitempty"`

	// ResponseID is set by providers offering stateful server-side
	// continuation; it identifies this segment's response.
	ResponseID string `json:"response_id,omitempty"`
}
