package continuation

import "github.com/streamloop/toolstream/message"

// Block types of a structured-blocks message.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Block is one content block inside a structured-blocks message.
type Block struct {
	Type       string           `json:"type"` // text, tool_use, tool_result
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// ToolUseBlock records one tool invocation the assistant made.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResultBlock carries one tool outcome back to the model.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// BlockMessage is one message of a structured-blocks transcript.
type BlockMessage struct {
	Role   message.Role `json:"role"`
	Blocks []Block      `json:"blocks"`
}

// FunctionCall mirrors a functionCall part.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse mirrors a functionResponse part.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// FunctionTurn is one turn of a function-call-pairs transcript.
type FunctionTurn struct {
	Role      string             `json:"role"` // user, model, function
	Text      string             `json:"text,omitempty"`
	Calls     []FunctionCall     `json:"calls,omitempty"`
	Responses []FunctionResponse `json:"responses,omitempty"`
}

// FunctionCallOutput is one item of a stateful continuation request.
type FunctionCallOutput struct {
	Type   string `json:"type"` // always "function_call_output"
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// StatefulContinuation resumes a backend's server-side context instead of
// replaying history.
type StatefulContinuation struct {
	PreviousResponseID string               `json:"previous_response_id,omitempty"`
	Items              []FunctionCallOutput `json:"items"`
}

// Payload is a built continuation in the provider's idiom. Exactly one of
// the shape-specific fields is populated, matching Shape.
type Payload struct {
	Shape        Shape
	SystemPrompt string

	Blocks   []BlockMessage        // ShapeStructuredBlocks
	Turns    []FunctionTurn        // ShapeFunctionCallPairs
	Stateful *StatefulContinuation // ShapeStatefulResponseID
	Flat     []*message.Message    // ShapeFlattenedHistory
}
