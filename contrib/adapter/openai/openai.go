// Package openai adapts the OpenAI chat-completions streaming protocol.
//
// Tool results are fed back as flattened history: the continuation replays
// the transcript with assistant tool-call and tool-result messages appended.
package openai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/stream"
)

// Config holds OpenAI adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string

	// Name overrides the registry id, for OpenAI-compatible backends.
	Name string
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithName set the registry id.
func (cfg *Config) WithName(name string) *Config {
	cfg.Name = name
	return cfg
}

// DefaultConfig returns default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{Name: "openai"}
}

// Adapter implements provider.Adapter over the official OpenAI SDK.
type Adapter struct {
	name   string
	client openai.Client
	logger *slog.Logger
}

// New creates an OpenAI adapter using the official SDK.
func New(config *Config) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	name := config.Name
	if name == "" {
		name = "openai"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		name:   name,
		client: openai.NewClient(options...),
		logger: logging.WithComponent("adapter." + name),
	}
}

func (a *Adapter) Name() string                      { return a.name }
func (a *Adapter) Shape() continuation.Shape         { return continuation.ShapeFlattenedHistory }
func (a *Adapter) HistoryMode() provider.HistoryMode { return provider.HistoryStructured }

// GenerateStream opens one chat-completions stream segment.
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

		s := a.client.Chat.Completions.NewStreaming(ctx, *params)
		defer s.Close()

		sawToolCalls := false
		var usage *stream.Usage

		for s.Next() {
			event := s.Current()

			if event.Usage.TotalTokens > 0 {
				usage = &stream.Usage{
					PromptTokens:     int(event.Usage.PromptTokens),
					CompletionTokens: int(event.Usage.CompletionTokens),
					TotalTokens:      int(event.Usage.TotalTokens),
				}
			}
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]

			if choice.Delta.Content != "" {
				if !yield(&stream.Chunk{Content: choice.Delta.Content}, nil) {
					return
				}
			}

			if len(choice.Delta.ToolCalls) > 0 {
				deltas := make([]stream.ToolCallDelta, 0, len(choice.Delta.ToolCalls))
				for _, tc := range choice.Delta.ToolCalls {
					deltas = append(deltas, stream.ToolCallDelta{
						Index:          int(tc.Index),
						ID:             tc.ID,
						Name:           tc.Function.Name,
						ArgumentsDelta: tc.Function.Arguments,
					})
				}
				sawToolCalls = true
				if !yield(&stream.Chunk{ToolCalls: deltas}, nil) {
					return
				}
			}
		}

		if err := s.Err(); err != nil {
			yield(nil, fmt.Errorf("openai streaming error: %w", err))
			return
		}

		// The SDK only ends the stream after the terminating chunk, so any
		// accumulated tool-call arguments are complete here.
		yield(&stream.Chunk{Complete: true, ToolCallsReady: sawToolCalls, Usage: usage}, nil)
	}
}

func (a *Adapter) buildParams(req *provider.Request) (*openai.ChatCompletionNewParams, error) {
	transcript := req.History
	if req.Continuation != nil {
		// Routed models behind a gateway arrive with another family's
		// payload shape; render it into the linear transcript this dialect
		// expects instead of refusing the turn.
		flat, err := req.Continuation.Flatten()
		if err != nil {
			return nil, fmt.Errorf("openai adapter cannot consume continuation: %w", err)
		}
		transcript = flat
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(transcript)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range transcript {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Content))
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Content)
			if len(msg.ToolCalls) > 0 && assistantMsg.OfAssistant != nil {
				assistantMsg.OfAssistant.ToolCalls = encodeToolCalls(msg.ToolCalls)
			}
			msgs = append(msgs, assistantMsg)
		case message.RoleTool:
			msgs = append(msgs, openai.ToolMessage(msg.Content, msg.ToolID))
		}
	}
	if len(transcript) == 0 && req.Prompt != "" {
		msgs = append(msgs, openai.UserMessage(req.Prompt))
	}

	params := &openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
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

func encodeTools(schemas []map[string]any) ([]openai.ChatCompletionToolUnionParam, error) {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		fn := schema
		if inner, ok := schema["function"].(map[string]any); ok {
			fn = inner
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tool schema missing name")
		}
		def := openai.FunctionDefinitionParam{Name: name}
		if desc, ok := fn["description"].(string); ok && desc != "" {
			def.Description = param.NewOpt(desc)
		}
		if parameters, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = openai.FunctionParameters(parameters)
		}
		tools = append(tools, openai.ChatCompletionFunctionTool(def))
	}
	return tools, nil
}

func encodeToolCalls(calls []message.ToolCall) []openai.ChatCompletionMessageToolCallUnionParam {
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Arguments
		if args == "" {
			args = "{}"
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: args,
				},
			},
		})
	}
	return params
}
