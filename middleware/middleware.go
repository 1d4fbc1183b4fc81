// Package middleware provides an interception chain around orchestrated
// turns: validate or rewrite the input before the stream opens, observe or
// filter the final response after it closes.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/streamloop/toolstream/executor"
	"github.com/streamloop/toolstream/message"
)

// ErrRateLimitExceeded indicates the turn limiter rejected a request.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Context carries one turn through the chain.
type Context struct {
	// Input is the user prompt of the turn.
	Input string

	// Messages is the full conversation passed to the orchestrator.
	Messages []*message.Message

	// Response holds the assistant's final message once the turn completed.
	Response *message.Message

	// Results lists the tool invocations the turn executed.
	Results []executor.Result

	// Metadata passes data between middlewares.
	Metadata map[string]any

	ctx context.Context
}

// NewContext creates a turn context.
func NewContext(ctx context.Context) *Context {
	return &Context{
		Metadata: make(map[string]any),
		ctx:      ctx,
	}
}

// Context returns the underlying context.Context.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Middleware intercepts a turn. Returning an error stops the chain.
type Middleware interface {
	Name() string
	Execute(ctx *Context, next Handler) error
}

// Handler passes control to the next middleware.
type Handler func(*Context) error

// Chain is an ordered middleware sequence.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Add appends a middleware.
func (c *Chain) Add(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Execute runs the chain, then the final handler.
func (c *Chain) Execute(ctx *Context, final Handler) error {
	return c.run(ctx, 0, final)
}

func (c *Chain) run(ctx *Context, index int, final Handler) error {
	if index >= len(c.middlewares) {
		return final(ctx)
	}
	next := func(ctx *Context) error {
		return c.run(ctx, index+1, final)
	}
	return c.middlewares[index].Execute(ctx, next)
}

// TurnLogger logs turn input and outcome through a structured logger.
type TurnLogger struct {
	logger *slog.Logger
}

// NewTurnLogger creates a turn logging middleware.
func NewTurnLogger(logger *slog.Logger) *TurnLogger {
	return &TurnLogger{logger: logger}
}

func (m *TurnLogger) Name() string { return "TurnLogger" }

func (m *TurnLogger) Execute(ctx *Context, next Handler) error {
	if m.logger != nil {
		m.logger.Info("turn started", "input_len", len(ctx.Input), "messages", len(ctx.Messages))
	}
	err := next(ctx)
	if m.logger == nil {
		return err
	}
	switch {
	case err != nil:
		m.logger.Warn("turn failed", "error", err)
	case ctx.Response != nil:
		m.logger.Info("turn completed",
			"output_len", len(ctx.Response.Content), "tool_calls", len(ctx.Results))
	}
	return err
}

// ValidatorFunc validates a turn's input.
type ValidatorFunc func(string) error

// InputValidator rejects turns whose input fails validation.
type InputValidator struct {
	validate ValidatorFunc
}

// NewInputValidator creates an input validation middleware.
func NewInputValidator(validate ValidatorFunc) *InputValidator {
	return &InputValidator{validate: validate}
}

func (m *InputValidator) Name() string { return "InputValidator" }

func (m *InputValidator) Execute(ctx *Context, next Handler) error {
	if m.validate != nil {
		if err := m.validate(ctx.Input); err != nil {
			return err
		}
	}
	return next(ctx)
}

// FilterFunc transforms or rejects a final response.
type FilterFunc func(*message.Message) error

// ResponseFilter applies a transformation to the final response.
type ResponseFilter struct {
	filter FilterFunc
}

// NewResponseFilter creates a response filtering middleware.
func NewResponseFilter(filter FilterFunc) *ResponseFilter {
	return &ResponseFilter{filter: filter}
}

func (m *ResponseFilter) Name() string { return "ResponseFilter" }

func (m *ResponseFilter) Execute(ctx *Context, next Handler) error {
	if err := next(ctx); err != nil {
		return err
	}
	if ctx.Response != nil && m.filter != nil {
		return m.filter(ctx.Response)
	}
	return nil
}

// EnricherFunc mutates the turn context before execution.
type EnricherFunc func(*Context) error

// Enricher adds data to the turn context.
type Enricher struct {
	enrich EnricherFunc
}

// NewEnricher creates a context enriching middleware.
func NewEnricher(enrich EnricherFunc) *Enricher {
	return &Enricher{enrich: enrich}
}

func (m *Enricher) Name() string { return "Enricher" }

func (m *Enricher) Execute(ctx *Context, next Handler) error {
	if m.enrich != nil {
		if err := m.enrich(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// Limiter caps the total number of turns allowed through the chain.
type Limiter struct {
	mu       sync.Mutex
	max      int
	admitted int
}

// NewLimiter creates a turn limiting middleware.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

func (m *Limiter) Name() string { return "Limiter" }

func (m *Limiter) Execute(ctx *Context, next Handler) error {
	m.mu.Lock()
	if m.admitted >= m.max {
		m.mu.Unlock()
		return ErrRateLimitExceeded
	}
	m.admitted++
	m.mu.Unlock()
	return next(ctx)
}

// Reset clears the limiter's admission count.
func (m *Limiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted = 0
}
