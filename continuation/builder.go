package continuation

import (
	"fmt"

	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
)

// BuildInput bundles everything the builder needs for one continuation.
type BuildInput struct {
	Shape           Shape
	Model           string
	Prompt          string
	SystemPrompt    string
	Previous        []*message.Message
	Calls           []message.ToolCall
	Results         []executor.Result
	PriorResponseID string
}

// Build produces a provider-idiom continuation payload from one batch of
// executed tool calls. Tool arguments are never assumed to be valid JSON;
// a parse failure substitutes an empty object.
func Build(in BuildInput) (*Payload, error) {
	shape := ShapeForModel(in.Shape, in.Model)
	if !shape.Valid() {
		return nil, fmt.Errorf("unknown continuation shape %q", in.Shape)
	}

	resultFor := make(map[string]executor.Result, len(in.Results))
	for _, r := range in.Results {
		resultFor[r.ID] = r
	}

	switch shape {
	case ShapeStructuredBlocks:
		return buildStructuredBlocks(in, resultFor), nil
	case ShapeFunctionCallPairs:
		return buildFunctionCallPairs(in, resultFor), nil
	case ShapeStatefulResponseID:
		return buildStateful(in, resultFor), nil
	default:
		return buildFlattened(in, resultFor), nil
	}
}

func buildStructuredBlocks(in BuildInput, resultFor map[string]executor.Result) *Payload {
	msgs := make([]BlockMessage, 0, len(in.Previous)+3)
	for _, msg := range in.Previous {
		if msg == nil || msg.Role == message.RoleSystem {
			continue
		}
		msgs = append(msgs, BlockMessage{
			Role:   msg.Role,
			Blocks: []Block{{Type: BlockText, Text: msg.Content}},
		})
	}
	if in.Prompt != "" {
		msgs = append(msgs, BlockMessage{
			Role:   message.RoleUser,
			Blocks: []Block{{Type: BlockText, Text: in.Prompt}},
		})
	}

	uses := make([]Block, 0, len(in.Calls))
	results := make([]Block, 0, len(in.Calls))
	for _, call := range in.Calls {
		uses = append(uses, Block{
			Type: BlockToolUse,
			ToolUse: &ToolUseBlock{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.ArgsMap(),
			},
		})
		r := pairResult(call, resultFor)
		results = append(results, Block{
			Type: BlockToolResult,
			ToolResult: &ToolResultBlock{
				ToolUseID: call.ID,
				Content:   resultContent(r),
				IsError:   !r.Success,
			},
		})
	}
	msgs = append(msgs,
		BlockMessage{Role: message.RoleAssistant, Blocks: uses},
		BlockMessage{Role: message.RoleUser, Blocks: results},
	)

	return &Payload{Shape: ShapeStructuredBlocks, SystemPrompt: in.SystemPrompt, Blocks: msgs}
}

func buildFunctionCallPairs(in BuildInput, resultFor map[string]executor.Result) *Payload {
	turns := make([]FunctionTurn, 0, len(in.Previous)+3)
	for _, msg := range in.Previous {
		if msg == nil || msg.Role == message.RoleSystem {
			continue
		}
		turns = append(turns, FunctionTurn{Role: functionRole(msg.Role), Text: msg.Content})
	}
	if in.Prompt != "" {
		turns = append(turns, FunctionTurn{Role: "user", Text: in.Prompt})
	}

	calls := make([]FunctionCall, 0, len(in.Calls))
	responses := make([]FunctionResponse, 0, len(in.Calls))
	for _, call := range in.Calls {
		calls = append(calls, FunctionCall{Name: call.Name, Args: call.ArgsMap()})
		r := pairResult(call, resultFor)
		resp := make(map[string]any, 1)
		if r.Success {
			resp["content"] = r.Result
		} else {
			resp["error"] = resultContent(r)
		}
		responses = append(responses, FunctionResponse{Name: call.Name, Response: resp})
	}
	turns = append(turns,
		FunctionTurn{Role: "model", Calls: calls},
		FunctionTurn{Role: "function", Responses: responses},
	)

	// System instruction stays a separate field for this family.
	return &Payload{Shape: ShapeFunctionCallPairs, SystemPrompt: in.SystemPrompt, Turns: turns}
}

func buildStateful(in BuildInput, resultFor map[string]executor.Result) *Payload {
	items := make([]FunctionCallOutput, 0, len(in.Calls))
	for _, call := range in.Calls {
		r := pairResult(call, resultFor)
		items = append(items, FunctionCallOutput{
			Type:   "function_call_output",
			CallID: call.ID,
			Output: resultContent(r),
		})
	}
	return &Payload{
		Shape:        ShapeStatefulResponseID,
		SystemPrompt: in.SystemPrompt,
		Stateful: &StatefulContinuation{
			PreviousResponseID: in.PriorResponseID,
			Items:              items,
		},
	}
}

func buildFlattened(in BuildInput, resultFor map[string]executor.Result) *Payload {
	flat := make([]*message.Message, 0, len(in.Previous)+len(in.Calls)+2)
	flat = append(flat, in.Previous...)
	if in.Prompt != "" {
		flat = append(flat, message.NewMessage(message.RoleUser, in.Prompt))
	}
	flat = append(flat, message.NewToolCallMessage(in.Calls))
	for _, call := range in.Calls {
		r := pairResult(call, resultFor)
		flat = append(flat, message.NewToolResponseMessage(call.ID, resultContent(r)))
	}
	return &Payload{Shape: ShapeFlattenedHistory, SystemPrompt: in.SystemPrompt, Flat: flat}
}

// pairResult matches a call to its result by id. A dropped call yields a
// synthetic failure so the model still sees an outcome for every request.
func pairResult(call message.ToolCall, resultFor map[string]executor.Result) executor.Result {
	if r, ok := resultFor[call.ID]; ok {
		return r
	}
	return executor.Result{
		ID:      call.ID,
		Name:    call.Name,
		Success: false,
		Error:   "no result returned",
	}
}

// resultContent renders the content fed back to the model: the stringified
// result for successes, "Error: ..." for failures.
func resultContent(r executor.Result) string {
	if r.Success {
		return r.Result
	}
	return "Error: " + r.Error
}

func functionRole(role message.Role) string {
	switch role {
	case message.RoleAssistant:
		return "model"
	case message.RoleTool:
		return "function"
	default:
		return "user"
	}
}
