package continuation

import (
	"encoding/json"
	"fmt"

	"github.com/streamloop/toolstream/message"
)

// Flatten renders a payload as a linear chat transcript so a
// flattened-history adapter can consume continuations built for another
// family, which happens whenever a routed model behind a gateway promotes
// the shape. Stateful payloads cannot be flattened: their context lives
// server-side behind the prior response id.
func (p *Payload) Flatten() ([]*message.Message, error) {
	switch p.Shape {
	case ShapeFlattenedHistory:
		return p.Flat, nil
	case ShapeStructuredBlocks:
		return flattenBlocks(p.Blocks), nil
	case ShapeFunctionCallPairs:
		return flattenTurns(p.Turns), nil
	case ShapeStatefulResponseID:
		return nil, fmt.Errorf("stateful continuation cannot be flattened")
	default:
		return nil, fmt.Errorf("unknown continuation shape %q", p.Shape)
	}
}

func flattenBlocks(msgs []BlockMessage) []*message.Message {
	flat := make([]*message.Message, 0, len(msgs))
	for _, bm := range msgs {
		var calls []message.ToolCall
		for _, b := range bm.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					flat = append(flat, message.NewMessage(bm.Role, b.Text))
				}
			case BlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				calls = append(calls, message.ToolCall{
					ID:        b.ToolUse.ID,
					Name:      b.ToolUse.Name,
					Index:     len(calls),
					Arguments: marshalArgs(b.ToolUse.Input),
				})
			case BlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				flat = append(flat, message.NewToolResponseMessage(b.ToolResult.ToolUseID, b.ToolResult.Content))
			}
		}
		if len(calls) > 0 {
			flat = append(flat, message.NewToolCallMessage(calls))
		}
	}
	return flat
}

func flattenTurns(turns []FunctionTurn) []*message.Message {
	flat := make([]*message.Message, 0, len(turns))
	for _, turn := range turns {
		role := message.RoleUser
		switch turn.Role {
		case "model":
			role = message.RoleAssistant
		case "function":
			role = message.RoleTool
		}
		if turn.Text != "" {
			flat = append(flat, message.NewMessage(role, turn.Text))
		}
		if len(turn.Calls) > 0 {
			calls := make([]message.ToolCall, 0, len(turn.Calls))
			for i, c := range turn.Calls {
				// This family carries no call ids; the function name keys
				// the call/response pairing, so it doubles as the id.
				calls = append(calls, message.ToolCall{
					ID:        c.Name,
					Name:      c.Name,
					Index:     i,
					Arguments: marshalArgs(c.Args),
				})
			}
			flat = append(flat, message.NewToolCallMessage(calls))
		}
		for _, resp := range turn.Responses {
			flat = append(flat, message.NewToolResponseMessage(resp.Name, responseContent(resp.Response)))
		}
	}
	return flat
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func responseContent(resp map[string]any) string {
	if s, ok := resp["content"].(string); ok {
		return s
	}
	if s, ok := resp["error"].(string); ok {
		return s
	}
	return marshalArgs(resp)
}
