// Package llmimpl constructs provider adapters wrapped in the standard
// middleware chain.
package llmimpl

import (
	"context"
	"fmt"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmimpl/anthropic"
	"llmbroker/pkg/llmimpl/google"
	"llmbroker/pkg/llmimpl/ollama"
	"llmbroker/pkg/llmimpl/openai"
	"llmbroker/pkg/logx"
	"llmbroker/pkg/middleware/metrics"
	"llmbroker/pkg/middleware/retry"
	"llmbroker/pkg/middleware/timeout"
)

// Factory creates LLM clients with properly configured middleware chains.
type Factory struct {
	cfg      *config.Config
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewFactory creates a factory for the given broker configuration. Pass a
// nil recorder to disable metrics.
func NewFactory(cfg *config.Config, recorder metrics.Recorder) *Factory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Factory{
		cfg:      cfg,
		recorder: recorder,
		logger:   logx.NewLogger("factory"),
	}
}

// CreateClient builds the client for a named provider entry from the config,
// wrapped in the full middleware chain.
func (f *Factory) CreateClient(ctx context.Context, providerName string) (llm.Client, error) {
	pc, ok := f.cfg.Provider(providerName)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", providerName)
	}

	vendor, err := config.GetModelProvider(pc.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine vendor for model %s: %w", pc.Model, err)
	}

	var apiKey string
	if pc.APIKeyEnv != "" {
		apiKey, err = config.GetSecret(pc.APIKeyEnv)
		if err != nil && vendor != config.ProviderOllama {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", providerName, err)
		}
	}

	clientCfg := llm.Config{
		APIKey:      apiKey,
		BaseURL:     pc.BaseURL,
		ModelName:   pc.Model,
		MaxTokens:   llm.DefaultMaxTokens,
		Temperature: llm.TemperatureDefault,
	}

	var rawClient llm.Client
	switch vendor {
	case config.ProviderAnthropic:
		rawClient, err = anthropic.New(clientCfg)
	case config.ProviderOpenAI:
		rawClient, err = openai.New(clientCfg)
	case config.ProviderGoogle:
		rawClient, err = google.New(ctx, clientCfg)
	case config.ProviderOllama:
		rawClient, err = ollama.New(clientCfg)
	default:
		return nil, fmt.Errorf("unsupported vendor: %s", vendor)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", vendor, err)
	}

	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.cfg.MaxRetries,
		InitialDelay:  f.cfg.RetryBaseDelay(),
		MaxDelay:      retry.DefaultConfig.MaxDelay,
		BackoffFactor: f.cfg.BackoffMultiplier,
		Jitter:        true,
	}, nil)

	// Middleware order: Metrics -> Retry -> Timeout -> RawClient. The timeout
	// bounds each individual attempt; metrics observe the request as a whole.
	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, f.logger),
		retry.Middleware(retryPolicy),
		timeout.Middleware(f.cfg.TimeoutFor(vendor)),
	)

	return client, nil
}
