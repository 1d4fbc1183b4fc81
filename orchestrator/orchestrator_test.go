package orchestrator

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamloop/toolstream/continuation"
	tserrors "github.com/streamloop/toolstream/errors"
	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/session"
	"github.com/streamloop/toolstream/stream"
)

type scriptStep struct {
	chunk *stream.Chunk
	err   error
}

// scriptedAdapter replays canned stream segments, one per GenerateStream
// call, and records every request it receives.
type scriptedAdapter struct {
	mu         sync.Mutex
	name       string
	shape      continuation.Shape
	history    provider.HistoryMode
	segments   [][]scriptStep
	repeatLast bool
	requests   []*provider.Request
	onChunk    func(segment, step int)
}

func (a *scriptedAdapter) Name() string                      { return a.name }
func (a *scriptedAdapter) Shape() continuation.Shape         { return a.shape }
func (a *scriptedAdapter) HistoryMode() provider.HistoryMode { return a.history }

func (a *scriptedAdapter) GenerateStream(ctx context.Context, req *provider.Request) iter.Seq2[*stream.Chunk, error] {
	a.mu.Lock()
	segment := len(a.requests)
	a.requests = append(a.requests, req)
	idx := segment
	if idx >= len(a.segments) {
		if a.repeatLast && len(a.segments) > 0 {
			idx = len(a.segments) - 1
		} else {
			idx = -1
		}
	}
	var steps []scriptStep
	if idx >= 0 {
		steps = a.segments[idx]
	}
	a.mu.Unlock()

	return func(yield func(*stream.Chunk, error) bool) {
		for i, step := range steps {
			if a.onChunk != nil {
				a.onChunk(segment, i)
			}
			if !yield(step.chunk, step.err) {
				return
			}
		}
	}
}

func (a *scriptedAdapter) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *scriptedAdapter) request(i int) *provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[i]
}

// fakeExecutor records batches and answers each call via respond.
type fakeExecutor struct {
	mu      sync.Mutex
	batches [][]executor.Call
	respond func(call executor.Call) executor.Result
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, calls []executor.Call, sessionID string, onEvent func(executor.Event)) ([]executor.Result, error) {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.mu.Unlock()

	results := make([]executor.Result, 0, len(calls))
	for _, call := range calls {
		if f.respond != nil {
			results = append(results, f.respond(call))
			continue
		}
		results = append(results, executor.Result{ID: call.ID, Name: call.Name, Success: true, Result: "ok"})
	}
	return results, nil
}

func (f *fakeExecutor) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fencingExecutor struct {
	fakeExecutor
	fences int
}

func (f *fencingExecutor) Fence(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fences++
	return nil
}

func collect(seq iter.Seq2[*Event, error]) ([]*Event, error) {
	var events []*Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func newTestOrchestrator(t *testing.T, adapter provider.Adapter, exec executor.Executor, opts ...Option) *Orchestrator {
	t.Helper()
	registry := provider.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	opts = append([]Option{WithSettleDelay(0)}, opts...)
	return New(registry, exec, opts...)
}

func toolSchemas() []map[string]any {
	return []map[string]any{{"name": "read_file", "parameters": map[string]any{"type": "object"}}}
}

func TestGenerateResponseStreamPlainText(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{Content: "Hello"}},
			{chunk: &stream.Chunk{Content: ", world"}},
			{chunk: &stream.Chunk{Complete: true, Usage: &stream.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}},
		}},
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "hi")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Delta != "Hello" || events[1].Delta != ", world" {
		t.Errorf("deltas = %q, %q", events[0].Delta, events[1].Delta)
	}
	final := events[len(events)-1]
	if !final.Complete {
		t.Error("last event not terminal")
	}
	if final.Text != "Hello, world" {
		t.Errorf("final text = %q, want %q", final.Text, "Hello, world")
	}
	if final.Usage == nil || final.Usage.TotalTokens != 5 {
		t.Errorf("final usage = %+v, want total 5", final.Usage)
	}
	if len(final.Results) != 0 {
		t.Errorf("final results = %v, want none", final.Results)
	}
	if exec.batchCount() != 0 {
		t.Errorf("executor invoked %d times for a no-tool turn", exec.batchCount())
	}
	if got := adapter.requestCount(); got != 1 {
		t.Errorf("adapter called %d times, want 1", got)
	}
}

func TestGenerateResponseStreamToolPingpong(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{
			{
				{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{"path":`}}}},
				{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ArgumentsDelta: ` "note.txt"}`}}}},
				{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
			},
			{
				{chunk: &stream.Chunk{Content: "The note says: Hello"}},
				{chunk: &stream.Chunk{Complete: true}},
			},
		},
	}
	exec := &fakeExecutor{
		respond: func(call executor.Call) executor.Result {
			return executor.Result{ID: call.ID, Name: call.Name, Success: true, Result: "Hello"}
		},
	}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "read the note")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas(), SessionID: "s1"}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	// Two progressive tool-call events, the content delta, the terminal.
	var toolEvents []*Event
	for _, ev := range events {
		if len(ev.ToolCalls) > 0 && !ev.Complete {
			toolEvents = append(toolEvents, ev)
		}
	}
	if len(toolEvents) != 2 {
		t.Fatalf("got %d progressive tool-call events, want 2", len(toolEvents))
	}
	if toolEvents[0].ToolCalls[0].Arguments != `{"path":` {
		t.Errorf("first fragment = %q", toolEvents[0].ToolCalls[0].Arguments)
	}
	if got := toolEvents[1].ToolCalls[0].Arguments; got != `{"path": "note.txt"}` {
		t.Errorf("merged arguments = %q", got)
	}

	if exec.batchCount() != 1 {
		t.Fatalf("executor invoked %d times, want 1", exec.batchCount())
	}
	batch := exec.batches[0]
	if len(batch) != 1 || batch[0].Name != "read_file" || batch[0].Arguments != `{"path": "note.txt"}` {
		t.Errorf("executed batch = %+v", batch)
	}

	if adapter.requestCount() != 2 {
		t.Fatalf("adapter called %d times, want 2", adapter.requestCount())
	}
	cont := adapter.request(1)
	if cont.Continuation == nil {
		t.Fatal("second request missing continuation payload")
	}
	if cont.Continuation.Shape != continuation.ShapeFlattenedHistory {
		t.Errorf("continuation shape = %q", cont.Continuation.Shape)
	}

	final := events[len(events)-1]
	if !final.Complete {
		t.Fatal("last event not terminal")
	}
	if final.Text != "The note says: Hello" {
		t.Errorf("final text = %q", final.Text)
	}
	if len(final.Results) != 1 || !final.Results[0].Success || final.Results[0].Result != "Hello" {
		t.Errorf("final results = %+v", final.Results)
	}
}

func TestGenerateResponseStreamRoutedModelPingpong(t *testing.T) {
	// A gateway-routed anthropic model on a flattened-history backend: the
	// continuation is built in the promoted structured-blocks dialect and the
	// turn still completes end to end.
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{
			{
				{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{"path": "note.txt"}`}}}},
				{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
			},
			{
				{chunk: &stream.Chunk{Content: "The note says: Hello"}},
				{chunk: &stream.Chunk{Complete: true}},
			},
		},
	}
	exec := &fakeExecutor{
		respond: func(call executor.Call) executor.Result {
			return executor.Result{ID: call.ID, Name: call.Name, Success: true, Result: "Hello"}
		},
	}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "read the note")},
		&Options{Provider: "fake", Model: "anthropic/claude-sonnet-4", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	if adapter.requestCount() != 2 {
		t.Fatalf("adapter called %d times, want 2", adapter.requestCount())
	}
	cont := adapter.request(1)
	if cont.Continuation == nil {
		t.Fatal("second request missing continuation payload")
	}
	if cont.Continuation.Shape != continuation.ShapeStructuredBlocks {
		t.Errorf("continuation shape = %q, want %q", cont.Continuation.Shape, continuation.ShapeStructuredBlocks)
	}

	// The promoted payload must still reduce to a transcript the
	// flattened-history adapter can replay.
	flat, err := cont.Continuation.Flatten()
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	var sawToolResult bool
	for _, msg := range flat {
		if msg.Role == message.RoleTool && msg.ToolID == "call_1" && msg.Content == "Hello" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Errorf("flattened continuation missing the tool result: %+v", flat)
	}

	final := events[len(events)-1]
	if !final.Complete {
		t.Fatal("last event not terminal")
	}
	if final.Text != "The note says: Hello" {
		t.Errorf("final text = %q", final.Text)
	}
	if len(final.Results) != 1 || !final.Results[0].Success {
		t.Errorf("final results = %+v", final.Results)
	}
}

func TestGenerateResponseStreamUnreadyBatchNotExecuted(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{"path"`}}}},
			{chunk: &stream.Chunk{Complete: true}}, // truncated: never marked ready
		}},
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	if exec.batchCount() != 0 {
		t.Errorf("executor invoked on an incomplete batch")
	}
	final := events[len(events)-1]
	if !final.Complete {
		t.Error("turn did not terminate")
	}
	if len(final.Results) != 0 {
		t.Errorf("final results = %+v, want none", final.Results)
	}
}

func TestGenerateResponseStreamNoToolsOffered(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{}`}}}},
			{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
		}},
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1"}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}
	if exec.batchCount() != 0 {
		t.Error("executor invoked although no tools were offered")
	}
	if !events[len(events)-1].Complete {
		t.Error("turn did not terminate")
	}
}

func TestGenerateResponseStreamIterationCeiling(t *testing.T) {
	// Every segment requests another tool call, forever.
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_x", Name: "read_file", ArgumentsDelta: `{"path": "a"}`}}}},
			{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
		}},
		repeatLast: true,
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec, WithMaxToolIterations(3))

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "loop")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	if exec.batchCount() != 3 {
		t.Errorf("executor invoked %d times, want exactly the ceiling of 3", exec.batchCount())
	}
	final := events[len(events)-1]
	if !final.Complete {
		t.Fatal("turn did not terminate")
	}
	if !strings.Contains(final.Text, "Tool iteration limit reached") {
		t.Errorf("final text missing the limit advisory: %q", final.Text)
	}
	if len(final.Results) != 3 {
		t.Errorf("final results = %d, want 3", len(final.Results))
	}

	// The advisory arrives as a delta before the terminal event.
	advisory := events[len(events)-2]
	if !strings.Contains(advisory.Delta, "Tool iteration limit reached") {
		t.Errorf("penultimate event delta = %q", advisory.Delta)
	}
}

func TestGenerateResponseStreamDefaultCeilingUntouched(t *testing.T) {
	// 14 tool rounds then a plain answer stays below the default ceiling of
	// 15, so no advisory appears.
	toolSegment := []scriptStep{
		{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_x", Name: "read_file", ArgumentsDelta: `{}`}}}},
		{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
	}
	var segments [][]scriptStep
	for i := 0; i < 14; i++ {
		segments = append(segments, toolSegment)
	}
	segments = append(segments, []scriptStep{
		{chunk: &stream.Chunk{Content: "done"}},
		{chunk: &stream.Chunk{Complete: true}},
	})

	adapter := &scriptedAdapter{
		name:     "fake",
		shape:    continuation.ShapeFlattenedHistory,
		history:  provider.HistoryFlattened,
		segments: segments,
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}
	if exec.batchCount() != 14 {
		t.Errorf("executor invoked %d times, want 14", exec.batchCount())
	}
	final := events[len(events)-1]
	if strings.Contains(final.Text, "Tool iteration limit reached") {
		t.Errorf("advisory appended below the ceiling: %q", final.Text)
	}
	if !strings.HasSuffix(final.Text, "done") {
		t.Errorf("final text = %q", final.Text)
	}
}

func TestGenerateResponseStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{Content: "partial"}},
			{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{}`}}}},
			{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
		}},
	}
	// Cancel after the first chunk is delivered.
	adapter.onChunk = func(segment, step int) {
		if segment == 0 && step == 1 {
			cancel()
		}
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(ctx,
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	if exec.batchCount() != 0 {
		t.Error("executor invoked after cancellation")
	}
	if len(events) != 1 || events[0].Delta != "partial" {
		t.Fatalf("events after cancellation = %+v, want only the first delta", events)
	}
	for _, ev := range events {
		if ev.Complete {
			t.Error("terminal event emitted after cancellation")
		}
	}
}

func TestGenerateResponseStreamFirstSegmentErrorPropagates(t *testing.T) {
	backendErr := errors.New("backend unreachable")
	adapter := &scriptedAdapter{
		name:     "fake",
		shape:    continuation.ShapeFlattenedHistory,
		history:  provider.HistoryFlattened,
		segments: [][]scriptStep{{{err: backendErr}}},
	}
	o := newTestOrchestrator(t, adapter, &fakeExecutor{})

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1"}))
	if !errors.Is(err, backendErr) {
		t.Fatalf("error = %v, want %v", err, backendErr)
	}
	for _, ev := range events {
		if ev.Complete {
			t.Error("terminal event emitted alongside a first-segment error")
		}
	}
}

func TestGenerateResponseStreamMidTurnFailureDegrades(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{
			{
				{chunk: &stream.Chunk{Content: "checking"}},
				{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{}`}}}},
				{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
			},
			{{err: errors.New("stream reset")}},
		},
	}
	exec := &fakeExecutor{}
	o := newTestOrchestrator(t, adapter, exec)

	events, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
	if err != nil {
		t.Fatalf("mid-turn failure surfaced as error: %v", err)
	}

	final := events[len(events)-1]
	if !final.Complete {
		t.Fatal("turn did not terminate after mid-turn failure")
	}
	if final.Text != "checking" {
		t.Errorf("final text = %q", final.Text)
	}
	if len(final.Results) != 1 {
		t.Errorf("final results = %d, want the executed batch preserved", len(final.Results))
	}
}

func TestGenerateResponseStreamUnknownProvider(t *testing.T) {
	adapter := &scriptedAdapter{name: "fake", shape: continuation.ShapeFlattenedHistory, history: provider.HistoryFlattened}
	o := newTestOrchestrator(t, adapter, &fakeExecutor{})

	_, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "nope", Model: "m1"}))
	if !errors.Is(err, tserrors.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGenerateResponseStreamValidation(t *testing.T) {
	adapter := &scriptedAdapter{name: "fake", shape: continuation.ShapeFlattenedHistory, history: provider.HistoryFlattened}
	o := newTestOrchestrator(t, adapter, &fakeExecutor{})

	_, err := collect(o.GenerateResponseStream(context.Background(), nil,
		&Options{Provider: "fake", Model: "m1"}))
	if !errors.Is(err, tserrors.ErrNoMessages) {
		t.Errorf("empty messages: error = %v, want ErrNoMessages", err)
	}

	_, err = collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake"}))
	if !errors.Is(err, tserrors.ErrInvalidInput) {
		t.Errorf("missing model: error = %v, want ErrInvalidInput", err)
	}
}

func TestGenerateResponseStreamRecordsResponseID(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeStatefulResponseID,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{Content: "hi", ResponseID: "resp_42"}},
			{chunk: &stream.Chunk{Complete: true}},
		}},
	}
	store := session.NewMemoryStore()
	o := newTestOrchestrator(t, adapter, &fakeExecutor{}, WithSessionStore(store))

	_, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{Provider: "fake", Model: "m1", SessionID: "s9"}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	id, err := store.LastResponseID(context.Background(), "s9")
	if err != nil {
		t.Fatalf("LastResponseID() error = %v", err)
	}
	if id != "resp_42" {
		t.Errorf("recorded response id = %q, want resp_42", id)
	}
}

func TestGenerateResponseStreamFencerReplacesDelay(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{
			{
				{chunk: &stream.Chunk{ToolCalls: []stream.ToolCallDelta{{Index: 0, ID: "call_1", Name: "read_file", ArgumentsDelta: `{}`}}}},
				{chunk: &stream.Chunk{Complete: true, ToolCallsReady: true}},
			},
			{
				{chunk: &stream.Chunk{Content: "done"}},
				{chunk: &stream.Chunk{Complete: true}},
			},
		},
	}
	exec := &fencingExecutor{}
	registry := provider.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	// Deliberately long delay: the fence must be used instead.
	o := New(registry, exec, WithSettleDelay(time.Minute))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := collect(o.GenerateResponseStream(context.Background(),
			[]*message.Message{message.NewMessage(message.RoleUser, "go")},
			&Options{Provider: "fake", Model: "m1", Tools: toolSchemas()}))
		if err != nil {
			t.Errorf("GenerateResponseStream() error = %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("turn blocked on the settle delay although the executor fences")
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.fences != 1 {
		t.Errorf("Fence() called %d times, want 1", exec.fences)
	}
}

func TestGenerateResponseStreamOnUsage(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{Content: "hi"}},
			{chunk: &stream.Chunk{Complete: true, Usage: &stream.Usage{TotalTokens: 7}}},
		}},
	}
	usageCh := make(chan stream.Usage, 1)
	o := newTestOrchestrator(t, adapter, &fakeExecutor{})

	_, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{
			Provider: "fake", Model: "m1",
			OnUsage: func(u stream.Usage) { usageCh <- u },
		}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	select {
	case u := <-usageCh:
		if u.TotalTokens != 7 {
			t.Errorf("usage total = %d, want 7", u.TotalTokens)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnUsage never fired")
	}
}

type fixedEstimator struct{ n int }

func (f fixedEstimator) CountTokens(text string) int { return f.n }

func TestGenerateResponseStreamUsageEstimationFallback(t *testing.T) {
	adapter := &scriptedAdapter{
		name:    "fake",
		shape:   continuation.ShapeFlattenedHistory,
		history: provider.HistoryFlattened,
		segments: [][]scriptStep{{
			{chunk: &stream.Chunk{Content: "no usage reported"}},
			{chunk: &stream.Chunk{Complete: true}},
		}},
	}
	usageCh := make(chan stream.Usage, 1)
	o := newTestOrchestrator(t, adapter, &fakeExecutor{}, WithUsageEstimator(fixedEstimator{n: 11}))

	_, err := collect(o.GenerateResponseStream(context.Background(),
		[]*message.Message{message.NewMessage(message.RoleUser, "go")},
		&Options{
			Provider: "fake", Model: "m1",
			OnUsage: func(u stream.Usage) { usageCh <- u },
		}))
	if err != nil {
		t.Fatalf("GenerateResponseStream() error = %v", err)
	}

	select {
	case u := <-usageCh:
		if u.CompletionTokens != 11 {
			t.Errorf("estimated completion tokens = %d, want 11", u.CompletionTokens)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnUsage never fired with the estimate")
	}
}

func TestFlattenTranscript(t *testing.T) {
	previous := []*message.Message{
		message.NewMessage(message.RoleUser, "what is 2+2?"),
		message.NewMessage(message.RoleAssistant, "4"),
	}
	got := flattenTranscript("Be brief.", previous)
	for _, want := range []string{"Be brief.", "User: what is 2+2?", "Assistant: 4"} {
		if !strings.Contains(got, want) {
			t.Errorf("flattened transcript missing %q:\n%s", want, got)
		}
	}
	if got := flattenTranscript("sys", nil); got != "sys" {
		t.Errorf("empty history transcript = %q", got)
	}
}

func TestPairResults(t *testing.T) {
	calls := []executor.Call{
		{ID: "a", Name: "one"},
		{ID: "b", Name: "two"},
	}
	results := []executor.Result{{ID: "a", Name: "one", Success: true, Result: "ok"}}

	paired := pairResults(calls, results)
	if len(paired) != 2 {
		t.Fatalf("paired %d results, want 2", len(paired))
	}
	if !paired[0].Success {
		t.Error("present result lost")
	}
	if paired[1].Success || paired[1].Error != "no result returned" {
		t.Errorf("dropped call result = %+v", paired[1])
	}
}
