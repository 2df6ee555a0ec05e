package metrics

import (
	"context"
	"time"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/logx"
)

// Middleware returns a middleware function that records request metrics on the
// given recorder. Token counts come from the provider-reported usage on the
// response. For streams, only the establishment outcome is recorded; per-chunk
// accounting belongs to the consumer.
func Middleware(recorder Recorder, logger *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		provider := next.ProviderName()
		model := next.ModelName()

		return llm.WrapClient(
			// Complete implementation with metrics
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					errorType := llmerrors.TypeOf(err).String()
					recorder.ObserveRequest(provider, model, 0, 0, false, errorType, duration)
					if logger != nil {
						logger.Debug("request failed: provider=%s model=%s error_type=%s duration=%s",
							provider, model, errorType, duration)
					}
					return resp, err
				}

				recorder.ObserveRequest(provider, model,
					resp.Usage.PromptTokens, resp.Usage.CompletionTokens, true, "", duration)
				if logger != nil {
					logger.Debug("request ok: provider=%s model=%s prompt_tokens=%d completion_tokens=%d duration=%s",
						provider, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, duration)
				}
				return resp, nil
			},
			// Stream implementation with metrics
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)
				duration := time.Since(start)

				if err != nil {
					errorType := llmerrors.TypeOf(err).String()
					recorder.ObserveRequest(provider, model, 0, 0, false, errorType, duration)
					return nil, err
				}

				recorder.ObserveRequest(provider, model, 0, 0, true, "", duration)
				return ch, nil
			},
			next,
		)
	}
}
