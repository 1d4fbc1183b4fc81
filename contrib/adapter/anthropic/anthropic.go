// Package anthropic adapts the Anthropic Messages streaming protocol.
//
// Tool results are fed back as structured content blocks: an assistant turn
// carrying tool_use blocks followed by a user turn carrying the matching
// tool_result blocks.
package anthropic

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/stream"
)

const defaultMaxTokens = 4096

// Config holds Anthropic adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string
}

// DefaultConfig returns default Anthropic configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{APIKey: apiKey}
}

// Adapter implements provider.Adapter over the official Anthropic SDK.
type Adapter struct {
	client anthropic.Client
	logger *slog.Logger
}

// New creates an Anthropic adapter using the official SDK.
func New(config *Config) *Adapter {
	if config == nil {
		config = &Config{}
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		client: anthropic.NewClient(options...),
		logger: logging.WithComponent("adapter.anthropic"),
	}
}

func (a *Adapter) Name() string                      { return "anthropic" }
func (a *Adapter) Shape() continuation.Shape         { return continuation.ShapeStructuredBlocks }
func (a *Adapter) HistoryMode() provider.HistoryMode { return provider.HistoryStructured }

// GenerateStream opens one Messages stream segment.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.Request) iter.Seq2[*stream.Chunk, error] {
	return func(yield func(*stream.Chunk, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		params, err := a.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		s := a.client.Messages.NewStreaming(ctx, *params)
		defer s.Close()

		sawToolUse := false
		usage := &stream.Usage{}

		for s.Next() {
			event := s.Current()

			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				usage.PromptTokens = int(start.Message.Usage.InputTokens)

			case "content_block_start":
				blockStart := event.AsContentBlockStart()
				if blockStart.ContentBlock.Type != "tool_use" {
					continue
				}
				sawToolUse = true
				chunk := &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{
					Index: int(blockStart.Index),
					ID:    blockStart.ContentBlock.ID,
					Name:  blockStart.ContentBlock.Name,
				}}}
				if !yield(chunk, nil) {
					return
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				switch delta.Delta.Type {
				case "text_delta":
					if delta.Delta.Text == "" {
						continue
					}
					if !yield(&stream.Chunk{Content: delta.Delta.Text}, nil) {
						return
					}
				case "input_json_delta":
					if delta.Delta.PartialJSON == "" {
						continue
					}
					chunk := &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{
						Index:          int(delta.Index),
						ArgumentsDelta: delta.Delta.PartialJSON,
					}}}
					if !yield(chunk, nil) {
						return
					}
				}

			case "message_delta":
				msgDelta := event.AsMessageDelta()
				usage.CompletionTokens = int(msgDelta.Usage.OutputTokens)
			}
		}

		if err := s.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic streaming error: %w", err))
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		// message_stop only arrives after every content block closed, so
		// tool inputs accumulated from input_json_delta events are complete.
		yield(&stream.Chunk{Complete: true, ToolCallsReady: sawToolUse, Usage: usage}, nil)
	}
}

func (a *Adapter) buildParams(req *provider.Request) (*anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	system := req.SystemPrompt
	if req.Continuation != nil {
		if req.Continuation.Shape != continuation.ShapeStructuredBlocks {
			return nil, fmt.Errorf("anthropic adapter cannot consume continuation shape %q", req.Continuation.Shape)
		}
		if req.Continuation.SystemPrompt != "" {
			system = req.Continuation.SystemPrompt
		}
		params.Messages = encodeBlockMessages(req.Continuation.Blocks)
	} else {
		params.Messages = encodeHistory(req)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	return params, nil
}

func encodeHistory(req *provider.Request) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, msg := range req.History {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case message.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(req.History) == 0 && req.Prompt != "" {
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
	}
	return msgs
}

func encodeBlockMessages(blockMsgs []continuation.BlockMessage) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(blockMsgs))
	for _, bm := range blockMsgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(bm.Blocks))
		for _, b := range bm.Blocks {
			switch b.Type {
			case continuation.BlockText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case continuation.BlockToolUse:
				if b.ToolUse == nil {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ToolUse.ID,
						Name:  b.ToolUse.Name,
						Input: b.ToolUse.Input,
					},
				})
			case continuation.BlockToolResult:
				if b.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolResult.ToolUseID,
						IsError:   param.NewOpt(b.ToolResult.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: b.ToolResult.Content}},
						},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if bm.Role == message.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
	}
	return msgs
}

func encodeTools(schemas []map[string]any) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		// Declarations arrive in the function-calling wrapper form; accept
		// the bare form too.
		fn := schema
		if inner, ok := schema["function"].(map[string]any); ok {
			fn = inner
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tool schema missing name")
		}
		toolParam := anthropic.ToolParam{Name: name}
		if desc, ok := fn["description"].(string); ok {
			toolParam.Description = param.NewOpt(desc)
		}
		if input, ok := fn["parameters"].(map[string]any); ok {
			toolParam.InputSchema = anthropic.ToolInputSchemaParam{
				Properties: input["properties"],
				Required:   stringSlice(input["required"]),
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools, nil
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
