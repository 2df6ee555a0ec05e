// Package llm provides middleware chaining for LLM clients.
package llm

import (
	"context"
)

// Middleware represents a function that wraps a Client with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware func(next Client) Client

// clientFunc is an adapter that allows plain functions to implement the Client
// interface. Methods not overridden delegate to the wrapped client.
type clientFunc struct {
	complete func(context.Context, CompletionRequest) (CompletionResponse, error)
	stream   func(context.Context, CompletionRequest) (<-chan StreamChunk, error)
	next     Client
}

func (f clientFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f clientFunc) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return f.stream(ctx, req)
}

func (f clientFunc) CountTokens(messages []CompletionMessage) int {
	return f.next.CountTokens(messages)
}

func (f clientFunc) Capabilities() Capabilities {
	return f.next.Capabilities()
}

func (f clientFunc) HealthCheck(ctx context.Context) error {
	return f.next.HealthCheck(ctx)
}

func (f clientFunc) ProviderName() string {
	return f.next.ProviderName()
}

func (f clientFunc) ModelName() string {
	return f.next.ModelName()
}

// WrapClient creates a new Client overriding Complete and Stream with the
// provided functions; everything else delegates to next. This is the helper
// middleware implementations build on.
func WrapClient(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	stream func(context.Context, CompletionRequest) (<-chan StreamChunk, error),
	next Client,
) Client {
	return clientFunc{
		complete: complete,
		stream:   stream,
		next:     next,
	}
}

// Chain composes multiple middlewares around a base Client.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(client, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> client
//
// This means mw1 runs first and has the opportunity to modify the request
// or short-circuit before it reaches mw2, mw3, and finally the base client.
func Chain(base Client, middlewares ...Middleware) Client {
	// Apply middlewares in reverse order so that the first middleware
	// in the slice becomes the outermost wrapper
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
