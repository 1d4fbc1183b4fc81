// Package responses adapts the stateful "responses" streaming dialect, in
// which the backend keeps conversational context server-side and each
// segment is resumed with previous_response_id instead of replayed history.
package responses

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/stream"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds responses adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns default responses configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		Timeout: 120 * time.Second,
	}
}

// Adapter implements provider.Adapter over the raw responses wire protocol.
type Adapter struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// New creates a responses adapter.
func New(config *Config) *Adapter {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return &Adapter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logging.WithComponent("adapter.responses"),
	}
}

func (a *Adapter) Name() string                      { return "responses" }
func (a *Adapter) Shape() continuation.Shape         { return continuation.ShapeStatefulResponseID }
func (a *Adapter) HistoryMode() provider.HistoryMode { return provider.HistoryFlattened }

// apiRequest is the wire form of one responses invocation.
type apiRequest struct {
	Model              string         `json:"model"`
	Input              any            `json:"input"`
	Instructions       string         `json:"instructions,omitempty"`
	Tools              []functionTool `json:"tools,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Temperature        float64        `json:"temperature,omitempty"`
	MaxOutputTokens    int64          `json:"max_output_tokens,omitempty"`
	Stream             bool           `json:"stream"`
}

// functionTool is the flat tool declaration form of the responses dialect.
type functionTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// streamEvent is one SSE data payload. Only the fields the adapter reads
// are declared; each event type populates a subset.
type streamEvent struct {
	Type        string `json:"type"`
	Delta       string `json:"delta,omitempty"`
	OutputIndex int    `json:"output_index,omitempty"`
	Item        struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item,omitempty"`
	Response struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response,omitempty"`
}

// GenerateStream opens one responses stream segment.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.Request) iter.Seq2[*stream.Chunk, error] {
	return func(yield func(*stream.Chunk, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		body, err := a.buildRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}

		reader, err := a.open(ctx, body)
		if err != nil {
			yield(nil, err)
			return
		}
		defer reader.Close()

		sawCalls := false
		var usage *stream.Usage

		for {
			event, err := reader.ReadEvent()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("responses streaming error: %w", err))
				return
			}

			switch event.Type {
			case "response.created":
				if event.Response.ID == "" {
					continue
				}
				if !yield(&stream.Chunk{ResponseID: event.Response.ID}, nil) {
					return
				}

			case "response.output_text.delta":
				if event.Delta == "" {
					continue
				}
				if !yield(&stream.Chunk{Content: event.Delta}, nil) {
					return
				}

			case "response.output_item.added":
				if event.Item.Type != "function_call" {
					continue
				}
				sawCalls = true
				chunk := &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{
					Index: event.OutputIndex,
					ID:    event.Item.CallID,
					Name:  event.Item.Name,
				}}}
				if !yield(chunk, nil) {
					return
				}

			case "response.function_call_arguments.delta":
				if event.Delta == "" {
					continue
				}
				chunk := &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{
					Index:          event.OutputIndex,
					ArgumentsDelta: event.Delta,
				}}}
				if !yield(chunk, nil) {
					return
				}

			case "response.completed":
				usage = &stream.Usage{
					PromptTokens:     event.Response.Usage.InputTokens,
					CompletionTokens: event.Response.Usage.OutputTokens,
					TotalTokens:      event.Response.Usage.TotalTokens,
				}
				final := &stream.Chunk{
					Complete:       true,
					ToolCallsReady: sawCalls,
					Usage:          usage,
					ResponseID:     event.Response.ID,
				}
				if !yield(final, nil) {
					return
				}
			}
		}

		if usage == nil {
			// Stream closed without response.completed; still terminate the
			// segment so accumulated state is not lost.
			yield(&stream.Chunk{Complete: true, ToolCallsReady: sawCalls}, nil)
		}
	}
}

func (a *Adapter) buildRequest(req *provider.Request) (*apiRequest, error) {
	api := &apiRequest{
		Model:           req.Model,
		Instructions:    req.SystemPrompt,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          true,
	}

	if req.Continuation != nil {
		cont := req.Continuation
		if cont.Shape != continuation.ShapeStatefulResponseID || cont.Stateful == nil {
			return nil, fmt.Errorf("responses adapter cannot consume continuation shape %q", cont.Shape)
		}
		if cont.Stateful.PreviousResponseID == "" {
			return nil, fmt.Errorf("stateful continuation missing previous response id")
		}
		if cont.SystemPrompt != "" {
			api.Instructions = cont.SystemPrompt
		}
		api.PreviousResponseID = cont.Stateful.PreviousResponseID
		api.Input = cont.Stateful.Items
	} else {
		if req.Prompt == "" {
			return nil, fmt.Errorf("request carries no prompt")
		}
		api.Input = req.Prompt
	}

	if len(req.Tools) > 0 {
		api.Tools = encodeTools(req.Tools)
	}
	return api, nil
}

func encodeTools(schemas []map[string]any) []functionTool {
	tools := make([]functionTool, 0, len(schemas))
	for _, schema := range schemas {
		fn := schema
		if inner, ok := schema["function"].(map[string]any); ok {
			fn = inner
		}
		tool := functionTool{Type: "function"}
		tool.Name, _ = fn["name"].(string)
		tool.Description, _ = fn["description"].(string)
		tool.Parameters, _ = fn["parameters"].(map[string]any)
		tools = append(tools, tool)
	}
	return tools
}

func (a *Adapter) open(ctx context.Context, body *apiRequest) (*eventReader, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("responses API error (status %d): %s",
			httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return &eventReader{
		reader: bufio.NewReader(httpResp.Body),
		closer: httpResp.Body,
	}, nil
}

// eventReader reads SSE events from a responses stream.
type eventReader struct {
	reader *bufio.Reader
	closer io.Closer
}

// ReadEvent reads the next data payload from the stream.
// Returns nil, io.EOF when the stream is done.
func (r *eventReader) ReadEvent() (*streamEvent, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil, io.EOF
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("parsing event: %w", err)
		}
		return &event, nil
	}
}

// Close closes the stream.
func (r *eventReader) Close() error {
	return r.closer.Close()
}
