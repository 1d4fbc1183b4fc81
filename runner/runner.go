// Package runner executes orchestrated turns with bounded concurrency and
// an optional middleware chain around each turn.
package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/streamloop/toolstream/message"
	"github.com/streamloop/toolstream/middleware"
	"github.com/streamloop/toolstream/orchestrator"
	"github.com/streamloop/toolstream/pkg/logging"
)

// Generator produces orchestrated turn streams. *orchestrator.Orchestrator
// satisfies it.
type Generator interface {
	GenerateResponseStream(ctx context.Context, messages []*message.Message, opts *orchestrator.Options) iter.Seq2[*orchestrator.Event, error]
}

// Runner gates turn execution behind a concurrency limit.
type Runner struct {
	semaphore chan struct{}
	chain     *middleware.Chain
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMiddleware installs the middleware chain applied around each turn.
func WithMiddleware(chain *middleware.Chain) Option {
	return func(r *Runner) {
		if chain != nil {
			r.chain = chain
		}
	}
}

// New creates a runner allowing at most maxConcurrency turns in flight.
func New(maxConcurrency int, opts ...Option) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	r := &Runner{
		semaphore: make(chan struct{}, maxConcurrency),
		chain:     middleware.NewChain(),
		logger:    logging.WithComponent("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one turn to completion and returns its terminal event. The
// middleware chain sees the input before the stream opens and the final
// response after it closes.
func (r *Runner) Run(ctx context.Context, gen Generator, messages []*message.Message, opts *orchestrator.Options) (*orchestrator.Event, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mctx := middleware.NewContext(ctx)
	mctx.Messages = messages
	if len(messages) > 0 && messages[len(messages)-1] != nil {
		mctx.Input = messages[len(messages)-1].Content
	}

	var final *orchestrator.Event
	err := r.chain.Execute(mctx, func(mc *middleware.Context) error {
		for event, err := range gen.GenerateResponseStream(ctx, mc.Messages, opts) {
			if err != nil {
				return err
			}
			if event.Complete {
				final = event
			}
		}
		if final == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("turn ended without a terminal event")
		}
		mc.Response = message.NewMessage(message.RoleAssistant, final.Text)
		mc.Results = final.Results
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Filters may have rewritten the response.
	if mctx.Response != nil {
		final.Text = mctx.Response.Content
	}
	r.logger.Debug("turn completed", "results", len(final.Results))
	return final, nil
}

// RunStream executes one turn and passes its events through unchanged,
// holding a concurrency slot for the lifetime of the sequence. Middleware
// is not applied; streaming consumers see raw orchestrator events.
func (r *Runner) RunStream(ctx context.Context, gen Generator, messages []*message.Message, opts *orchestrator.Options) iter.Seq2[*orchestrator.Event, error] {
	return func(yield func(*orchestrator.Event, error) bool) {
		select {
		case r.semaphore <- struct{}{}:
			defer func() { <-r.semaphore }()
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}

		for event, err := range gen.GenerateResponseStream(ctx, messages, opts) {
			if !yield(event, err) {
				return
			}
		}
	}
}
