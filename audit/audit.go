package audit

import (
	"context"
	"sync"
	"time"

	"github.com/streamloop/toolstream/executor"
)

// Record is one persisted tool invocation from a turn's audit trail.
type Record struct {
	SessionID string          `json:"session_id"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Iteration int             `json:"iteration"`
	Call      executor.Call   `json:"call"`
	Result    executor.Result `json:"result"`
	At        time.Time       `json:"at"`
}

// Recorder persists audit records. Orchestrators call it fire-and-forget;
// a failing recorder must never affect the turn.
type Recorder interface {
	Record(ctx context.Context, records []Record) error
}

// MemoryRecorder keeps records in memory, mainly for tests and demos.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record implements Recorder.
func (r *MemoryRecorder) Record(ctx context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *MemoryRecorder) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Record(nil), r.records...)
}
