// Package gemini adapts the Google Gemini streaming protocol.
//
// Tool results are fed back as function call/response pairs: a model turn
// carrying functionCall parts followed by a user turn carrying the matching
// functionResponse parts. Gemini assigns no call ids, so the adapter
// synthesizes them from the function name and a per-segment counter.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/stream"
)

// Config holds Gemini adapter configuration.
type Config struct {
	APIKey string
}

// DefaultConfig returns default Gemini configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{APIKey: apiKey}
}

// Adapter implements provider.Adapter over the official Gemini SDK.
type Adapter struct {
	client *genai.Client
	logger *slog.Logger
}

// New creates a Gemini adapter using the official SDK.
func New(ctx context.Context, config *Config) (*Adapter, error) {
	if config == nil {
		config = &Config{}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Adapter{
		client: client,
		logger: logging.WithComponent("adapter.gemini"),
	}, nil
}

// Close releases the underlying gRPC connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) Name() string                      { return "gemini" }
func (a *Adapter) Shape() continuation.Shape         { return continuation.ShapeFunctionCallPairs }
func (a *Adapter) HistoryMode() provider.HistoryMode { return provider.HistoryStructured }

// GenerateStream opens one Gemini stream segment.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.Request) iter.Seq2[*stream.Chunk, error] {
	return func(yield func(*stream.Chunk, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		model := a.client.GenerativeModel(req.Model)
		if req.Temperature > 0 {
			model.SetTemperature(float32(req.Temperature))
		}
		if req.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(req.MaxTokens))
		}
		if len(req.Tools) > 0 {
			tools, err := encodeTools(req.Tools)
			if err != nil {
				yield(nil, err)
				return
			}
			model.Tools = tools
		}

		history, parts, system, err := buildTurns(req)
		if err != nil {
			yield(nil, err)
			return
		}
		if system != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}

		cs := model.StartChat()
		cs.History = history

		it := cs.SendMessageStream(ctx, parts...)

		callIndex := 0
		sawCalls := false
		var usage *stream.Usage

		for {
			resp, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("gemini streaming error: %w", err))
				return
			}

			if resp.UsageMetadata != nil {
				usage = &stream.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					if p == "" {
						continue
					}
					if !yield(&stream.Chunk{Content: string(p)}, nil) {
						return
					}
				case genai.FunctionCall:
					// Gemini delivers function calls whole, never as
					// argument fragments.
					args, err := json.Marshal(p.Args)
					if err != nil {
						args = []byte("{}")
					}
					chunk := &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{
						Index:          callIndex,
						ID:             fmt.Sprintf("%s_%d", p.Name, callIndex),
						Name:           p.Name,
						ArgumentsDelta: string(args),
					}}}
					callIndex++
					sawCalls = true
					if !yield(chunk, nil) {
						return
					}
				}
			}
		}

		yield(&stream.Chunk{Complete: true, ToolCallsReady: sawCalls, Usage: usage}, nil)
	}
}

// buildTurns assembles the chat history and the parts to send now.
func buildTurns(req *provider.Request) (history []*genai.Content, parts []genai.Part, system string, err error) {
	system = req.SystemPrompt

	if req.Continuation != nil {
		if req.Continuation.Shape != continuation.ShapeFunctionCallPairs {
			return nil, nil, "", fmt.Errorf("gemini adapter cannot consume continuation shape %q", req.Continuation.Shape)
		}
		if req.Continuation.SystemPrompt != "" {
			system = req.Continuation.SystemPrompt
		}

		turns := req.Continuation.Turns
		for i, turn := range turns {
			content := encodeTurn(turn)
			if len(content.Parts) == 0 {
				continue
			}
			// The trailing turn holds the function responses to send.
			if i == len(turns)-1 && len(turn.Responses) > 0 {
				parts = content.Parts
				continue
			}
			history = append(history, content)
		}
		if len(parts) == 0 {
			return nil, nil, "", fmt.Errorf("continuation carries no function responses")
		}
		return history, parts, system, nil
	}

	for i, msg := range req.History {
		if msg == nil || msg.Content == "" {
			continue
		}
		if i == len(req.History)-1 && msg.Role == message.RoleUser {
			parts = []genai.Part{genai.Text(msg.Content)}
			continue
		}
		role := "user"
		if msg.Role == message.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if len(parts) == 0 {
		if req.Prompt == "" {
			return nil, nil, "", fmt.Errorf("request carries no prompt")
		}
		parts = []genai.Part{genai.Text(req.Prompt)}
	}
	return history, parts, system, nil
}

func encodeTurn(turn continuation.FunctionTurn) *genai.Content {
	content := &genai.Content{Role: turn.Role}
	if turn.Role == "function" {
		content.Role = "user"
	}
	if turn.Text != "" {
		content.Parts = append(content.Parts, genai.Text(turn.Text))
	}
	for _, call := range turn.Calls {
		content.Parts = append(content.Parts, genai.FunctionCall{Name: call.Name, Args: call.Args})
	}
	for _, resp := range turn.Responses {
		content.Parts = append(content.Parts, genai.FunctionResponse{Name: resp.Name, Response: resp.Response})
	}
	return content
}

func encodeTools(schemas []map[string]any) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, schema := range schemas {
		fn := schema
		if inner, ok := schema["function"].(map[string]any); ok {
			fn = inner
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("tool schema missing name")
		}
		decl := &genai.FunctionDeclaration{Name: name}
		if desc, ok := fn["description"].(string); ok {
			decl.Description = desc
		}
		if params, ok := fn["parameters"].(map[string]any); ok {
			decl.Parameters = encodeSchema(params)
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func encodeSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ps := &genai.Schema{Type: schemaType(prop["type"])}
			if desc, ok := prop["description"].(string); ok {
				ps.Description = desc
			}
			if enum, ok := prop["enum"].([]string); ok {
				ps.Enum = enum
			}
			schema.Properties[name] = ps
		}
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, item := range req {
			if s, ok := item.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func schemaType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "number", "integer":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
