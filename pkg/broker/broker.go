// Package broker implements the conversation orchestrator: per-conversation
// state, provider selection with call-scoped fallback, context fitting before
// every request, and the tool execution loop.
package broker

import (
	"context"
	"fmt"
	"sync"

	"llmbroker/pkg/config"
	"llmbroker/pkg/contextfit"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/llmimpl"
	"llmbroker/pkg/logx"
	"llmbroker/pkg/middleware/metrics"
	"llmbroker/pkg/persistence"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

// ProviderStatus reports one provider's health as seen by ProviderStatus.
type ProviderStatus struct {
	Model   string `json:"model"`
	Error   string `json:"error,omitempty"`
	Healthy bool   `json:"healthy"`
	Active  bool   `json:"active"`
}

// Broker owns conversations and drives completion requests across the
// configured providers. Callers must serialize turns per conversation id;
// turns on different ids are independent.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Broker struct {
	cfg      *config.Config
	clients  map[string]llm.Client
	fitters  map[string]contextfit.Fitter
	registry *tools.Registry
	executor *tools.Executor
	store    persistence.Store
	logger   *logx.Logger

	mu            sync.RWMutex
	active        string
	conversations map[string]*persistence.Conversation
}

// New creates a broker over pre-built clients keyed by provider name. A nil
// store keeps conversations in memory only.
func New(cfg *config.Config, clients map[string]llm.Client, registry *tools.Registry, store persistence.Store) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := clients[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("no client for default provider %q", cfg.DefaultProvider)
	}
	for _, fb := range cfg.FallbackProviders {
		if _, ok := clients[fb]; !ok {
			return nil, fmt.Errorf("no client for fallback provider %q", fb)
		}
	}
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	fitters := make(map[string]contextfit.Fitter, len(clients))
	for name, client := range clients {
		est := tokens.NewEstimator(client.Capabilities().TokenizerClass)
		fitter, err := contextfit.ForStrategy(cfg.ContextStrategy, est)
		if err != nil {
			return nil, err
		}
		fitters[name] = fitter
	}

	logger := logx.NewLogger("broker")

	return &Broker{
		cfg:           cfg,
		clients:       clients,
		fitters:       fitters,
		registry:      registry,
		executor:      tools.NewExecutor(registry),
		store:         store,
		logger:        logger,
		active:        cfg.DefaultProvider,
		conversations: make(map[string]*persistence.Conversation),
	}, nil
}

// NewFromConfig builds adapter clients for every configured provider via the
// factory and assembles the broker around them.
func NewFromConfig(ctx context.Context, cfg *config.Config, registry *tools.Registry, store persistence.Store, recorder metrics.Recorder) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := llmimpl.NewFactory(cfg, recorder)
	clients := make(map[string]llm.Client, len(cfg.Providers))
	for i := range cfg.Providers {
		name := cfg.Providers[i].Name
		client, err := factory.CreateClient(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for provider %s: %w", name, err)
		}
		clients[name] = client
	}

	b, err := New(cfg, clients, registry, store)
	if err != nil {
		return nil, err
	}
	if err := probeProviders(ctx, cfg, clients, b.logger); err != nil {
		return nil, err
	}
	return b, nil
}

// probeProviders verifies reachability of every configured provider at
// startup, each probe bounded by the configured health check timeout. An
// unreachable default provider fails construction; unreachable fallbacks are
// logged and left to call-time health gating.
func probeProviders(ctx context.Context, cfg *config.Config, clients map[string]llm.Client, logger *logx.Logger) error {
	for name, client := range clients {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout())
		err := client.HealthCheck(probeCtx)
		cancel()
		if err == nil {
			continue
		}
		if name == cfg.DefaultProvider {
			return llmerrors.NewUnavailableError(name, err)
		}
		logger.Warn("provider %s failed startup health check: %v", name, err)
	}
	return nil
}

// Registry returns the tool registry used by this broker.
func (b *Broker) Registry() *tools.Registry {
	return b.registry
}

// ExecutionHistory returns the tool execution audit log.
func (b *Broker) ExecutionHistory() []tools.ExecutionResult {
	return b.executor.History()
}

// ActiveProvider returns the currently active provider name.
func (b *Broker) ActiveProvider() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// SwitchProvider makes the named provider active for subsequent calls. The
// provider must pass its health check first. Conversation history is never
// touched.
func (b *Broker) SwitchProvider(ctx context.Context, name string) error {
	client, ok := b.clients[name]
	if !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.HealthCheckTimeout())
	err := client.HealthCheck(probeCtx)
	cancel()
	if err != nil {
		return llmerrors.NewUnavailableError(name, err)
	}

	b.mu.Lock()
	b.active = name
	b.mu.Unlock()

	b.logger.Info("active provider switched to %s", name)
	return nil
}

// GetProviderStatus health-checks every configured provider and reports the
// results keyed by provider name.
func (b *Broker) GetProviderStatus(ctx context.Context) map[string]ProviderStatus {
	active := b.ActiveProvider()
	out := make(map[string]ProviderStatus, len(b.clients))
	for name, client := range b.clients {
		status := ProviderStatus{
			Model:   client.ModelName(),
			Active:  name == active,
			Healthy: true,
		}
		if err := client.HealthCheck(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
		}
		out[name] = status
	}
	return out
}

// CountTokens estimates the token footprint of messages using the active
// provider's tokenizer family.
func (b *Broker) CountTokens(messages []llm.CompletionMessage) int {
	return b.clients[b.ActiveProvider()].CountTokens(messages)
}

// Close releases the conversation store.
func (b *Broker) Close() error {
	return b.store.Close()
}
