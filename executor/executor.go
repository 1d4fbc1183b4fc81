package executor

import (
	"context"
	"time"
)

// Call is one tool invocation request as handed to an executor. Arguments
// is the raw payload captured from the stream; executors parse it at the
// moment of dispatch.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Result is the outcome of one tool call.
type Result struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Success       bool          `json:"success"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// EventKind identifies executor progress notifications.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
)

// Event is a progress notification emitted while a batch runs. Callers use
// these for live UI; the orchestrator forwards them fire-and-forget.
type Event struct {
	Kind   EventKind
	CallID string
	Name   string
	Result *Result
}

// Executor executes one batch of tool calls per pingpong iteration.
// Implementations own their concurrency policy; a per-call failure must be
// reported through Result, not through the batch error.
type Executor interface {
	ExecuteBatch(ctx context.Context, calls []Call, sessionID string, onEvent func(Event)) ([]Result, error)
}

// Fencer is an optional executor capability: Fence blocks until side
// effects of previously executed calls are visible. Orchestrators prefer
// this over a fixed settle delay when available.
type Fencer interface {
	Fence(ctx context.Context) error
}
