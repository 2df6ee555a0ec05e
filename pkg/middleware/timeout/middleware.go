// Package timeout provides per-request timeout middleware for LLM clients.
package timeout

import (
	"context"
	"time"

	"llmbroker/pkg/llm"
)

const streamBuffer = 32

// Middleware returns a middleware function that bounds each request with a
// timeout context. For streams, the timeout covers the whole consumption,
// not just establishment; the context is released when the stream ends.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			// Complete implementation with timeout
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				return next.Complete(timeoutCtx, req)
			},
			// Stream implementation with timeout
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)

				ch, err := next.Stream(timeoutCtx, req)
				if err != nil {
					cancel()
					return nil, err
				}

				out := make(chan llm.StreamChunk, streamBuffer)
				go func() {
					defer cancel()
					defer close(out)
					sawDone := false
					for chunk := range ch {
						if chunk.Done {
							sawDone = true
						}
						select {
						case out <- chunk:
						case <-timeoutCtx.Done():
							out <- llm.StreamChunk{Error: timeoutCtx.Err(), Done: true}
							return
						}
					}
					// The inner stream may close silently when it observes the
					// expired context. Surface the timeout to the consumer.
					if !sawDone && timeoutCtx.Err() != nil {
						out <- llm.StreamChunk{Error: timeoutCtx.Err(), Done: true}
					}
				}()
				return out, nil
			},
			next,
		)
	}
}
