// Package middleware wraps a question on its way to the answer pipeline.
// The HTTP server, the MCP tool and the CLI share one chain so that
// validation, rate limiting and logging behave the same on every surface.
package middleware

import (
	"context"

	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/session"
)

// Context represents the middleware execution context
type Context struct {
	// Question is the user text as received.
	Question string
	// Mode is the caller supplied mode, not yet normalised.
	Mode string
	// History is the conversation so far, most recent last.
	History session.History
	// SessionID names a stored conversation, if any.
	SessionID string
	// Client identifies the caller for rate limiting.
	Client string

	// Response from the pipeline
	Response *esg.Response

	// Error from execution
	Error error

	// Metadata for passing data between middlewares
	Metadata map[string]any

	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context) *Context {
	return &Context{
		Metadata: make(map[string]any),
		context:  ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// Middleware defines the interface for middleware components
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic. Returning an error stops the chain.
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// Chain represents a sequence of middleware to be executed
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Add appends a middleware to the chain
func (c *Chain) Add(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Names lists the middlewares in execution order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.middlewares))
	for _, m := range c.middlewares {
		names = append(names, m.Name())
	}
	return names
}

// Execute runs all middlewares in the chain, then final. The returned
// error is also stored in ctx.Error.
func (c *Chain) Execute(ctx *Context, final Handler) error {
	err := c.executeMiddleware(ctx, 0, final)
	ctx.Error = err
	return err
}

func (c *Chain) executeMiddleware(ctx *Context, index int, final Handler) error {
	if index >= len(c.middlewares) {
		return final(ctx)
	}

	next := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, final)
	}
	return c.middlewares[index].Execute(ctx, next)
}

// Answerer is the pipeline entry point the chain usually ends in.
type Answerer interface {
	Answer(ctx context.Context, question string, history session.History, mode string) (*esg.Response, error)
}

// AnswerHandler returns a final handler that answers ctx.Question and
// stores the response.
func AnswerHandler(a Answerer) Handler {
	return func(ctx *Context) error {
		resp, err := a.Answer(ctx.Context(), ctx.Question, ctx.History, ctx.Mode)
		if err != nil {
			return err
		}
		ctx.Response = resp
		return nil
	}
}
