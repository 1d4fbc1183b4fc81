package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/streamloop/toolstream/audit"
	tserrors "github.com/streamloop/toolstream/errors"
	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/pkg/logging"
	"github.com/streamloop/toolstream/pkg/telemetry"
	"github.com/streamloop/toolstream/provider"
	"github.com/streamloop/toolstream/session"
	"github.com/streamloop/toolstream/stream"
)

// DefaultMaxToolIterations bounds the number of consecutive tool-using
// segments within one turn.
const DefaultMaxToolIterations = 15

// defaultSettleDelay gives asynchronous tool side effects (filesystem
// writes, caches) a moment to land before the continuation stream can
// re-query the same state. A race mitigation, not a correctness guarantee;
// executors implementing executor.Fencer replace it with a real fence.
const defaultSettleDelay = 100 * time.Millisecond

// UsageEstimator supplies token counts for segments whose provider did not
// report usage.
type UsageEstimator interface {
	CountTokens(text string) int
}

// Orchestrator drives streaming conversational turns against registered
// provider adapters, executing tool-call batches and re-entering each
// provider's continuation protocol until the model stops requesting tools.
type Orchestrator struct {
	registry          *provider.Registry
	executor          executor.Executor
	sessions          session.Store
	recorder          audit.Recorder
	estimator         UsageEstimator
	settleDelay       time.Duration
	maxToolIterations int
	logger            *slog.Logger
	tracer            trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionStore replaces the default in-memory continuation state store.
func WithSessionStore(store session.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.sessions = store
		}
	}
}

// WithAuditRecorder enables persistence of the per-turn tool audit trail.
func WithAuditRecorder(recorder audit.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

// WithUsageEstimator enables token estimation for segments lacking
// provider-reported usage.
func WithUsageEstimator(estimator UsageEstimator) Option {
	return func(o *Orchestrator) {
		o.estimator = estimator
	}
}

// WithSettleDelay overrides the post-execution settle delay.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.settleDelay = d
		}
	}
}

// WithMaxToolIterations overrides the tool iteration ceiling.
func WithMaxToolIterations(max int) Option {
	return func(o *Orchestrator) {
		if max > 0 {
			o.maxToolIterations = max
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator over the given adapter registry and tool
// executor. The per-session continuation state defaults to an in-memory
// store whose lifecycle is tied to this instance.
func New(registry *provider.Registry, exec executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:          registry,
		executor:          exec,
		sessions:          session.NewMemoryStore(),
		settleDelay:       defaultSettleDelay,
		maxToolIterations: DefaultMaxToolIterations,
		logger:            logging.WithComponent("orchestrator"),
		tracer:            telemetry.Tracer("toolstream/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Options carries the per-turn configuration for one
// GenerateResponseStream invocation.
type Options struct {
	// Provider is the registry id of the adapter to use.
	Provider string

	// Model is the model identifier in the provider's namespace.
	Model string

	// SystemPrompt is the caller-supplied system prompt.
	SystemPrompt string

	// Tools lists the tool declarations offered to the model, in JSON
	// schema form. Empty means the turn cannot use tools.
	Tools []map[string]any

	// SessionID keys per-session continuation state.
	SessionID string

	Temperature float64
	MaxTokens   int64

	// OnUsage is invoked at most once per stream segment with that
	// segment's usage, fire-and-forget.
	OnUsage func(usage stream.Usage)

	// OnToolEvent receives executor progress notifications for live UI.
	OnToolEvent func(ev executor.Event)
}

func (opts *Options) validate() error {
	if opts == nil {
		return fmt.Errorf("%w: options cannot be nil", tserrors.ErrInvalidInput)
	}
	if opts.Provider == "" {
		return fmt.Errorf("%w: provider is required", tserrors.ErrInvalidInput)
	}
	if opts.Model == "" {
		return fmt.Errorf("%w: model is required", tserrors.ErrInvalidInput)
	}
	return nil
}
