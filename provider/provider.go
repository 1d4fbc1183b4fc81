package provider

import (
	"context"
	"iter"

	"github.com/streamloop/toolstream/continuation"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/stream"
)

// HistoryMode declares how an adapter wants prior conversation turns.
type HistoryMode string

const (
	// HistoryStructured adapters receive the prior turns as a message list.
	HistoryStructured HistoryMode = "structured"

	// HistoryFlattened adapters receive a linearized transcript appended to
	// the system prompt; they reject structured multi-turn input.
	HistoryFlattened HistoryMode = "flattened"
)

// Request carries one stream invocation. SystemPrompt/Prompt and History
// are mutually exclusive per call; Continuation is set on pingpong segments
// and then owns all conversational context.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	History      []*message.Message
	Continuation *continuation.Payload
	Tools        []map[string]any
	Temperature  float64
	MaxTokens    int64
	SessionID    string
}

// Adapter translates one backend's streaming wire protocol into normalized
// chunks and accepts continuations in its own dialect.
//
// Once an adapter yields a chunk with Complete set, any tool-call argument
// payloads accumulated for the segment are guaranteed syntactically complete.
type Adapter interface {
	// Name returns the provider identifier used for registry lookup.
	Name() string

	// Shape returns the continuation dialect this adapter expects.
	Shape() continuation.Shape

	// HistoryMode declares how prior turns should be delivered.
	HistoryMode() HistoryMode

	// GenerateStream opens one stream segment. The sequence is lazy,
	// single-pass and non-restartable; it honors ctx cancellation between
	// chunks.
	GenerateStream(ctx context.Context, req *Request) iter.Seq2[*stream.Chunk, error]
}
