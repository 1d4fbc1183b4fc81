package orchestrator

import (
	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/stream"
)

// Event is one increment of an orchestrated turn as exposed to callers.
// The sequence is lazy, single-pass and non-restartable; the final event of
// a turn carries Complete plus the accumulated usage and the full tool
// audit trail.
type Event struct {
	// Delta is the text produced since the previous event.
	Delta string `json:"delta,omitempty"`

	// Text is the cumulative text of the whole turn so far.
	Text string `json:"text"`

	// ToolCalls is the current merged view of the segment's tool calls.
	// It is emitted progressively: until ToolCallsReady is set the
	// argument payloads may be fragments and must not be parsed.
	ToolCalls []message.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallsReady marks the tool-call payloads as syntactically complete.
	ToolCallsReady bool `json:"tool_calls_ready,omitempty"`

	// Usage is the latest token accounting seen, when available.
	Usage *stream.Usage `json:"usage,omitempty"`

	// Results lists every tool invocation of the turn; set on the
	// terminal event only.
	Results []executor.Result `json:"results,omitempty"`

	// Complete marks the terminal event of the turn.
	Complete bool `json:"complete"`
}

// iterationLimitAdvisory is appended to the turn text when the tool
// iteration ceiling is hit. Hitting the ceiling is a normal terminal
// state, not an error.
const iterationLimitAdvisory = "\n\nTool iteration limit reached. " +
	"This turn ran the maximum number of consecutive tool rounds and has been " +
	"paused; please confirm before continuing with further tool use."
