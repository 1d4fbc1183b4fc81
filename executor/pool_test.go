package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/streamloop/toolstream/tool"
)

func newTestRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	err := reg.Register(&tool.Tool{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "missing.md" {
				return "", fmt.Errorf("file not found")
			}
			return "Hello", nil
		},
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}
	return reg
}

func TestPoolExecuteBatch(t *testing.T) {
	pool := NewPool(newTestRegistry(t))

	results, err := pool.ExecuteBatch(context.Background(), []Call{
		{ID: "call_1", Name: "read_file", Arguments: `{"path":"note.md"}`},
	}, "session-1", nil)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if !results[0].Success || results[0].Result != "Hello" {
		t.Errorf("Unexpected result: %+v", results[0])
	}
	if results[0].ID != "call_1" {
		t.Errorf("Result not paired to call: %+v", results[0])
	}
}

func TestPoolFailedCallDoesNotAbortBatch(t *testing.T) {
	pool := NewPool(newTestRegistry(t))

	results, err := pool.ExecuteBatch(context.Background(), []Call{
		{ID: "call_1", Name: "read_file", Arguments: `{"path":"missing.md"}`},
		{ID: "call_2", Name: "read_file", Arguments: `{"path":"note.md"}`},
	}, "session-1", nil)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	if results[0].Success {
		t.Errorf("Expected first call to fail")
	}
	if results[0].Error == "" {
		t.Errorf("Expected error string on failed call")
	}
	if !results[1].Success {
		t.Errorf("Second call should still succeed: %+v", results[1])
	}
}

func TestPoolMalformedArgumentsDegradeToEmptyMap(t *testing.T) {
	pool := NewPool(newTestRegistry(t))

	results, err := pool.ExecuteBatch(context.Background(), []Call{
		{ID: "call_1", Name: "read_file", Arguments: `{"path":"no`},
	}, "session-1", nil)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	// The handler requires "path", so validation fails, but as a per-call
	// result rather than a batch error.
	if results[0].Success {
		t.Errorf("Expected validation failure for truncated arguments")
	}
}

func TestPoolEmitsStartedAndCompletedEvents(t *testing.T) {
	pool := NewPool(newTestRegistry(t))

	var mu sync.Mutex
	var kinds []EventKind
	onEvent := func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	}

	_, err := pool.ExecuteBatch(context.Background(), []Call{
		{ID: "call_1", Name: "read_file", Arguments: `{"path":"note.md"}`},
	}, "session-1", onEvent)
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != EventStarted || kinds[1] != EventCompleted {
		t.Errorf("Expected started then completed, got %v", kinds)
	}
}

func TestPoolEmptyBatch(t *testing.T) {
	pool := NewPool(newTestRegistry(t))
	results, err := pool.ExecuteBatch(context.Background(), nil, "session-1", nil)
	if err != nil || results != nil {
		t.Errorf("Empty batch should be a no-op, got %v %v", results, err)
	}
}
