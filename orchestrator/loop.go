package orchestrator

import (
	"context"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamloop/toolstream/audit"
	"github.com/streamloop/toolstream/continuation"
	tserrors "github.com/streamloop/toolstream/errors"
	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/pkg/telemetry"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/stream"
)

// turnState accumulates what one GenerateResponseStream invocation has
// produced so far. It lives for exactly one turn.
type turnState struct {
	text       string
	usage      *stream.Usage
	results    []executor.Result
	iterations int
}

// segmentResult is what consuming one stream segment produced.
type segmentResult struct {
	calls []message.ToolCall // captured batch, nil unless complete and ready
	usage *stream.Usage
	text  string
	err   error
}

// GenerateResponseStream drives one conversational turn. The returned
// sequence yields content deltas as they arrive, progressive tool-call
// views, and exactly one terminal event carrying the accumulated usage and
// the turn's full tool audit trail, unless the context is canceled first.
//
// Only configuration errors (unknown provider, invalid options) surface as
// errors; streaming and tool failures degrade to a partial but terminating
// response.
func (o *Orchestrator) GenerateResponseStream(ctx context.Context, messages []*message.Message, opts *Options) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if err := opts.validate(); err != nil {
			yield(nil, err)
			return
		}
		if len(messages) == 0 {
			yield(nil, tserrors.ErrNoMessages)
			return
		}

		adapter, err := o.registry.Get(opts.Provider)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
			attribute.String("llm.provider", opts.Provider),
			attribute.String("llm.model", opts.Model),
			attribute.String("session.id", opts.SessionID),
		))
		var turnErr error
		defer func() { telemetry.End(span, turnErr) }()

		// The last message is the turn's prompt; everything before it is
		// context for continuation building.
		last := messages[len(messages)-1]
		previous := message.CloneMessages(messages[:len(messages)-1])
		prompt := last.Content

		req := o.initialRequest(adapter, opts, previous, last)

		turn := &turnState{}
		firstSegment := true

		for {
			seg, ok := o.consumeSegment(ctx, adapter, req, opts, turn, yield)
			if !ok {
				// Canceled, or the consumer stopped iterating: no further
				// events, not even a terminal one.
				return
			}
			if seg.err != nil {
				if firstSegment {
					// Backend failure before anything useful streamed.
					turnErr = seg.err
					yield(nil, seg.err)
					return
				}
				// Mid-pingpong failures end the loop but keep the turn.
				o.logger.Warn("continuation stream failed",
					"session_id", opts.SessionID, "provider", opts.Provider, "error", seg.err)
				break
			}
			firstSegment = false

			o.reportUsage(opts, seg)

			if len(seg.calls) == 0 || len(opts.Tools) == 0 {
				break
			}

			turn.iterations++
			if turn.iterations > o.maxToolIterations {
				// Safety valve against runaway agentic loops: advise and
				// stop without executing the pending batch.
				o.logger.Warn("tool iteration ceiling hit",
					"session_id", opts.SessionID, "limit", o.maxToolIterations)
				turn.text += iterationLimitAdvisory
				if !yield(&Event{Delta: iterationLimitAdvisory, Text: turn.text}, nil) {
					return
				}
				break
			}

			span.AddEvent("tool_batch", trace.WithAttributes(
				attribute.Int("iteration", turn.iterations),
				attribute.Int("calls", len(seg.calls)),
			))

			results, ok := o.runBatch(ctx, seg.calls, opts, turn)
			if !ok {
				if ctx.Err() != nil {
					return
				}
				break
			}

			o.settle(ctx)
			if ctx.Err() != nil {
				return
			}

			payload, err := o.buildContinuation(ctx, adapter, opts, prompt, previous, seg.calls, results)
			if err != nil {
				o.logger.Warn("continuation build failed",
					"session_id", opts.SessionID, "error", err)
				break
			}

			// The prompt moves into the continuation payload from here on.
			req = &provider.Request{
				Model:        opts.Model,
				SystemPrompt: payload.SystemPrompt,
				Continuation: payload,
				Tools:        opts.Tools,
				Temperature:  opts.Temperature,
				MaxTokens:    opts.MaxTokens,
				SessionID:    opts.SessionID,
			}
		}

		yield(&Event{
			Text:     turn.text,
			Usage:    turn.usage,
			Results:  turn.results,
			Complete: true,
		}, nil)
	}
}

// consumeSegment drains one adapter stream, yielding delta events as they
// arrive. The returned bool is false when the turn must stop immediately
// (cancellation or consumer break) without any further events.
func (o *Orchestrator) consumeSegment(ctx context.Context, adapter provider.Adapter, req *provider.Request, opts *Options, turn *turnState, yield func(*Event, error) bool) (segmentResult, bool) {
	var seg segmentResult
	acc := stream.NewAccumulator()
	ready := false
	complete := false

	for chunk, err := range adapter.GenerateStream(ctx, req) {
		if ctx.Err() != nil {
			return seg, false
		}
		if err != nil {
			seg.err = err
			return seg, true
		}
		if chunk == nil {
			continue
		}

		if chunk.Content != "" {
			turn.text += chunk.Content
			seg.text += chunk.Content
			// Token-level latency: one chunk in, one event out.
			if !yield(&Event{Delta: chunk.Content, Text: turn.text}, nil) {
				return seg, false
			}
		}

		if chunk.ToolCallsReady {
			ready = true
		}
		if len(chunk.ToolCalls) > 0 {
			acc.Add(chunk.ToolCalls)
			// Progressive visibility regardless of completeness; execution
			// waits for a complete segment.
			if !yield(&Event{Text: turn.text, ToolCalls: acc.Calls(), ToolCallsReady: ready}, nil) {
				return seg, false
			}
		}

		if chunk.Usage != nil {
			u := *chunk.Usage
			seg.usage = &u
			turn.usage = &u
		}

		if chunk.ResponseID != "" && opts.SessionID != "" {
			if err := o.sessions.SetLastResponseID(ctx, opts.SessionID, chunk.ResponseID); err != nil {
				o.logger.Warn("failed to record response id",
					"session_id", opts.SessionID, "error", err)
			}
		}

		if chunk.Complete {
			complete = true
		}
	}

	if ctx.Err() != nil {
		return seg, false
	}
	if complete && ready && !acc.Empty() {
		seg.calls = acc.Calls()
	}
	return seg, true
}

// runBatch normalizes a captured batch into the executor's shape, runs it,
// and pairs every call with a result.
func (o *Orchestrator) runBatch(ctx context.Context, calls []message.ToolCall, opts *Options, turn *turnState) ([]executor.Result, bool) {
	batch := make([]executor.Call, 0, len(calls))
	for _, c := range calls {
		batch = append(batch, executor.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}

	results, err := o.executor.ExecuteBatch(ctx, batch, opts.SessionID, opts.OnToolEvent)
	if err != nil {
		o.logger.Warn("tool batch failed",
			"session_id", opts.SessionID, "calls", len(batch), "error", err)
		return nil, false
	}

	paired := pairResults(batch, results)
	turn.results = append(turn.results, paired...)
	o.record(opts, turn.iterations, batch, paired)
	return paired, true
}

// pairResults matches executor results back to their calls by id; calls
// the executor dropped become synthetic failures.
func pairResults(calls []executor.Call, results []executor.Result) []executor.Result {
	byID := make(map[string]executor.Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	paired := make([]executor.Result, 0, len(calls))
	for _, call := range calls {
		if r, ok := byID[call.ID]; ok {
			paired = append(paired, r)
			continue
		}
		paired = append(paired, executor.Result{
			ID:      call.ID,
			Name:    call.Name,
			Success: false,
			Error:   "no result returned",
		})
	}
	return paired
}

// record persists the batch's audit records fire-and-forget.
func (o *Orchestrator) record(opts *Options, iteration int, calls []executor.Call, results []executor.Result) {
	if o.recorder == nil {
		return
	}

	now := time.Now()
	records := make([]audit.Record, 0, len(calls))
	for i, call := range calls {
		records = append(records, audit.Record{
			SessionID: opts.SessionID,
			Provider:  opts.Provider,
			Model:     opts.Model,
			Iteration: iteration,
			Call:      call,
			Result:    results[i],
			At:        now,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.recorder.Record(ctx, records); err != nil {
			o.logger.Warn("audit record failed", "session_id", opts.SessionID, "error", err)
		}
	}()
}

// settle waits for tool side effects to become visible before the
// continuation stream opens. Executors that implement a real fence replace
// the fixed delay.
func (o *Orchestrator) settle(ctx context.Context) {
	if f, ok := o.executor.(executor.Fencer); ok {
		if err := f.Fence(ctx); err != nil {
			o.logger.Debug("executor fence failed", "error", err)
		}
		return
	}
	if o.settleDelay <= 0 {
		return
	}
	select {
	case <-time.After(o.settleDelay):
	case <-ctx.Done():
	}
}

func (o *Orchestrator) buildContinuation(ctx context.Context, adapter provider.Adapter, opts *Options, prompt string, previous []*message.Message, calls []message.ToolCall, results []executor.Result) (*continuation.Payload, error) {
	priorID := ""
	if opts.SessionID != "" {
		id, err := o.sessions.LastResponseID(ctx, opts.SessionID)
		if err != nil {
			o.logger.Warn("failed to load session state",
				"session_id", opts.SessionID, "error", err)
		} else {
			priorID = id
		}
	}

	return continuation.Build(continuation.BuildInput{
		Shape:           adapter.Shape(),
		Model:           opts.Model,
		Prompt:          prompt,
		SystemPrompt:    opts.SystemPrompt,
		Previous:        previous,
		Calls:           calls,
		Results:         results,
		PriorResponseID: priorID,
	})
}

// reportUsage fires the per-segment usage hook, estimating token counts
// when the provider reported none.
func (o *Orchestrator) reportUsage(opts *Options, seg segmentResult) {
	if opts.OnUsage == nil {
		return
	}
	usage := seg.usage
	if usage == nil && o.estimator != nil && seg.text != "" {
		n := o.estimator.CountTokens(seg.text)
		usage = &stream.Usage{CompletionTokens: n, TotalTokens: n}
	}
	if usage == nil {
		return
	}
	u := *usage
	// Fire-and-forget; must not block the event sequence.
	go opts.OnUsage(u)
}

// initialRequest shapes the first stream request according to the
// adapter's declared history mode.
func (o *Orchestrator) initialRequest(adapter provider.Adapter, opts *Options, previous []*message.Message, last *message.Message) *provider.Request {
	req := &provider.Request{
		Model:       opts.Model,
		Tools:       opts.Tools,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		SessionID:   opts.SessionID,
	}

	switch adapter.HistoryMode() {
	case provider.HistoryStructured:
		req.SystemPrompt = opts.SystemPrompt
		req.History = append(previous, message.Clone(last))
	default:
		req.SystemPrompt = flattenTranscript(opts.SystemPrompt, previous)
		req.Prompt = last.Content
	}
	return req
}

// flattenTranscript linearizes prior turns into the system prompt for
// providers that reject structured multi-turn input.
func flattenTranscript(systemPrompt string, previous []*message.Message) string {
	if len(previous) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	if systemPrompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation so far:\n")
	for _, msg := range previous {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case message.RoleUser:
			b.WriteString("User: ")
		case message.RoleAssistant:
			b.WriteString("Assistant: ")
		case message.RoleTool:
			b.WriteString("Tool Result: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
