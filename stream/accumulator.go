package stream

import (
	"sort"

	"github.com/streamloop/toolstream/message"
)

// Accumulator merges tool-call fragments for the lifetime of one stream
// segment. Fragments are keyed by the provider-reported index so argument
// text can arrive across many chunks and still concatenate onto the right
// call. Discard the accumulator when the segment completes.
type Accumulator struct {
	order []int
	calls map[int]*message.ToolCall
}

// NewAccumulator creates an empty per-segment accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		calls: make(map[int]*message.ToolCall),
	}
}

// Add merges one batch of fragments into the arena.
func (a *Accumulator) Add(deltas []ToolCallDelta) {
	for _, d := range deltas {
		call, ok := a.calls[d.Index]
		if !ok {
			call = &message.ToolCall{Index: d.Index}
			a.calls[d.Index] = call
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Name != "" {
			call.Name = d.Name
		}
		call.Arguments += d.ArgumentsDelta
	}
}

// Empty reports whether no fragments have been observed.
func (a *Accumulator) Empty() bool {
	return len(a.calls) == 0
}

// Calls returns the merged tool calls in provider index order.
func (a *Accumulator) Calls() []message.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := append([]int(nil), a.order...)
	sort.Ints(indexes)
	calls := make([]message.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *a.calls[idx])
	}
	return calls
}
