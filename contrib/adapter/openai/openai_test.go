package openai

import (
	"testing"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/provider"
)

func TestBuildParamsRoutedContinuation(t *testing.T) {
	a := New(DefaultConfig())

	// A gateway routes an anthropic model through this adapter: the builder
	// promotes the payload to structured blocks, which buildParams must
	// render back into the chat-completions transcript.
	payload, err := continuation.Build(continuation.BuildInput{
		Shape:  a.Shape(),
		Model:  "anthropic/claude-sonnet-4",
		Prompt: "read the note",
		Calls: []message.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"path":"note.txt"}`},
		},
		Results: []executor.Result{
			{ID: "call_1", Name: "read_file", Success: true, Result: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if payload.Shape != continuation.ShapeStructuredBlocks {
		t.Fatalf("payload shape = %q, want structured blocks", payload.Shape)
	}

	params, err := a.buildParams(&provider.Request{
		Model:        "anthropic/claude-sonnet-4",
		Continuation: payload,
	})
	if err != nil {
		t.Fatalf("buildParams() error = %v", err)
	}

	var sawAssistantCall, sawToolResult bool
	for _, msg := range params.Messages {
		if msg.OfAssistant != nil && len(msg.OfAssistant.ToolCalls) > 0 {
			tc := msg.OfAssistant.ToolCalls[0].OfFunction
			if tc == nil {
				t.Fatal("assistant tool call missing function variant")
			}
			if tc.ID != "call_1" || tc.Function.Name != "read_file" {
				t.Errorf("replayed tool call = %+v", tc)
			}
			if tc.Function.Arguments != `{"path":"note.txt"}` {
				t.Errorf("replayed arguments = %q", tc.Function.Arguments)
			}
			sawAssistantCall = true
		}
		if msg.OfTool != nil && msg.OfTool.ToolCallID == "call_1" {
			sawToolResult = true
		}
	}
	if !sawAssistantCall {
		t.Error("transcript missing the assistant tool-call record")
	}
	if !sawToolResult {
		t.Error("transcript missing the tool result message")
	}
}

func TestBuildParamsStatefulContinuationRejected(t *testing.T) {
	a := New(DefaultConfig())

	_, err := a.buildParams(&provider.Request{
		Model: "gpt-4o-mini",
		Continuation: &continuation.Payload{
			Shape:    continuation.ShapeStatefulResponseID,
			Stateful: &continuation.StatefulContinuation{PreviousResponseID: "resp_42"},
		},
	})
	if err == nil {
		t.Fatal("expected error for a stateful continuation payload")
	}
}

func TestEncodeTools(t *testing.T) {
	tools, err := encodeTools([]map[string]any{
		{
			"name":        "read_file",
			"description": "Read a file",
			"parameters":  map[string]any{"type": "object"},
		},
		{
			// OpenAI-style wrapper around the function definition.
			"type": "function",
			"function": map[string]any{
				"name": "write_file",
			},
		},
	})
	if err != nil {
		t.Fatalf("encodeTools() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("encoded %d tools, want 2", len(tools))
	}

	first := tools[0].OfFunction
	if first == nil {
		t.Fatal("first tool missing function variant")
	}
	if first.Function.Name != "read_file" {
		t.Errorf("first tool name = %q", first.Function.Name)
	}
	if first.Function.Description.Value != "Read a file" {
		t.Errorf("first tool description = %q", first.Function.Description.Value)
	}
	if first.Function.Parameters == nil {
		t.Error("first tool parameters dropped")
	}

	second := tools[1].OfFunction
	if second == nil || second.Function.Name != "write_file" {
		t.Errorf("wrapped schema not unwrapped: %+v", second)
	}
}

func TestEncodeToolsMissingName(t *testing.T) {
	if _, err := encodeTools([]map[string]any{{"description": "nameless"}}); err == nil {
		t.Fatal("expected error for a schema without a name")
	}
}

func TestEncodeToolCallsEmptyArguments(t *testing.T) {
	calls := encodeToolCalls([]message.ToolCall{{ID: "call_1", Name: "ping"}})
	if len(calls) != 1 || calls[0].OfFunction == nil {
		t.Fatalf("encoded calls = %+v", calls)
	}
	if got := calls[0].OfFunction.Function.Arguments; got != "{}" {
		t.Errorf("empty arguments encoded as %q, want {}", got)
	}
}
