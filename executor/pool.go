package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/tool"
)

// Pool dispatches tool calls against a tool.Registry, running every call in
// a batch concurrently and collecting per-call results.
type Pool struct {
	registry *tool.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCallTimeout bounds the execution time of a single call.
func WithCallTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.timeout = d
	}
}

// NewPool creates an executor backed by the given tool registry.
func NewPool(registry *tool.Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		registry: registry,
		timeout:  60 * time.Second,
		logger:   logging.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadProvider registers all tools supplied by a provider with the pool's
// registry, replacing existing definitions with the same name.
func (p *Pool) LoadProvider(ctx context.Context, provider tool.Provider) error {
	if provider == nil {
		return fmt.Errorf("tool provider cannot be nil")
	}
	tools, err := provider.Tools(ctx)
	if err != nil {
		return fmt.Errorf("load tools from provider: %w", err)
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			continue
		}
		if err := p.registry.Upsert(t); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteBatch implements Executor. Calls run concurrently; the returned
// slice preserves the order of the input batch.
func (p *Pool) ExecuteBatch(ctx context.Context, calls []Call, sessionID string, onEvent func(Event)) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]Result, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = p.executeOne(ctx, call, sessionID, onEvent)
		}(i, call)
	}
	wg.Wait()

	return results, nil
}

func (p *Pool) executeOne(ctx context.Context, call Call, sessionID string, onEvent func(Event)) Result {
	if onEvent != nil {
		onEvent(Event{Kind: EventStarted, CallID: call.ID, Name: call.Name})
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	args := parseArgs(call.Arguments)
	out, err := p.registry.Execute(ctx, call.Name, args)
	elapsed := time.Since(start)

	result := Result{
		ID:            call.ID,
		Name:          call.Name,
		ExecutionTime: elapsed,
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		p.logger.Warn("tool call failed",
			"session_id", sessionID, "tool", call.Name, "call_id", call.ID, "error", err)
	} else {
		result.Success = true
		result.Result = out
		p.logger.Debug("tool call completed",
			"session_id", sessionID, "tool", call.Name, "call_id", call.ID,
			"duration_ms", elapsed.Milliseconds())
	}

	if onEvent != nil {
		onEvent(Event{Kind: EventCompleted, CallID: call.ID, Name: call.Name, Result: &result})
	}
	return result
}

// parseArgs decodes a raw argument payload, degrading to an empty map when
// the payload is absent or malformed.
func parseArgs(raw string) map[string]any {
	args := make(map[string]any)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return make(map[string]any)
	}
	return args
}
