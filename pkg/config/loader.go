package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig configures one provider adapter instance.
type ProviderConfig struct {
	Name      string `yaml:"name"`                  // anthropic | openai | google | ollama
	Model     string `yaml:"model"`                 // model identifier passed to the vendor
	APIKeyEnv string `yaml:"api_key_env,omitempty"` // secret name holding the API key
	BaseURL   string `yaml:"base_url,omitempty"`    // endpoint override (ollama host, proxies)
}

// TimeoutConfig holds per-request timeout defaults in seconds.
type TimeoutConfig struct {
	CloudSeconds       int `yaml:"cloud_seconds,omitempty"`        // hosted vendors
	LocalSeconds       int `yaml:"local_seconds,omitempty"`        // local/self-hosted, slower
	HealthCheckSeconds int `yaml:"health_check_seconds,omitempty"` // startup and switch probes
}

// Config is the recognized broker configuration.
type Config struct {
	Providers         []ProviderConfig `yaml:"providers"`
	DefaultProvider   string           `yaml:"default_provider"`
	FallbackProviders []string         `yaml:"fallback_providers,omitempty"`
	ContextStrategy   string           `yaml:"context_strategy,omitempty"` // sliding | summarize | smart
	MaxRetries        int              `yaml:"max_retries,omitempty"`
	RetryBaseDelayMs  int              `yaml:"retry_base_delay_ms,omitempty"`
	BackoffMultiplier float64          `yaml:"backoff_multiplier,omitempty"`
	Timeouts          TimeoutConfig    `yaml:"timeouts,omitempty"`
}

// Context strategy names accepted in config.
const (
	StrategySliding   = "sliding"
	StrategySummarize = "summarize"
	StrategySmart     = "smart"
)

// Defaults applied by applyDefaults.
const (
	DefaultMaxRetries        = 3
	DefaultRetryBaseDelayMs  = 500
	DefaultBackoffMultiplier = 2.0
	DefaultCloudTimeoutSecs  = 60
	DefaultLocalTimeoutSecs  = 120
	DefaultHealthCheckSecs   = 5
)

// DefaultConfig returns a config populated with defaults and no providers.
// Callers add providers and pick a default before use.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ContextStrategy == "" {
		c.ContextStrategy = StrategySliding
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseDelayMs == 0 {
		c.RetryBaseDelayMs = DefaultRetryBaseDelayMs
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Timeouts.CloudSeconds == 0 {
		c.Timeouts.CloudSeconds = DefaultCloudTimeoutSecs
	}
	if c.Timeouts.LocalSeconds == 0 {
		c.Timeouts.LocalSeconds = DefaultLocalTimeoutSecs
	}
	if c.Timeouts.HealthCheckSeconds == 0 {
		c.Timeouts.HealthCheckSeconds = DefaultHealthCheckSecs
	}
}

// Validate checks internal consistency: the default and every fallback must
// name a configured provider, and the strategy must be recognized.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config must declare at least one provider")
	}

	names := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s: model is required", p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("provider %s declared twice", p.Name)
		}
		names[p.Name] = true
	}

	if c.DefaultProvider == "" {
		return fmt.Errorf("default_provider is required")
	}
	if !names[c.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not a configured provider", c.DefaultProvider)
	}
	for _, fb := range c.FallbackProviders {
		if !names[fb] {
			return fmt.Errorf("fallback provider %q is not a configured provider", fb)
		}
	}

	switch c.ContextStrategy {
	case StrategySliding, StrategySummarize, StrategySmart:
	default:
		return fmt.Errorf("context_strategy must be one of sliding, summarize, smart (got %q)", c.ContextStrategy)
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be >= 1.0")
	}
	return nil
}

// Provider returns the configuration for a named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return c.Providers[i], true
		}
	}
	return ProviderConfig{}, false
}

// RetryBaseDelay returns the base retry delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// HealthCheckTimeout bounds reachability probes so a hung endpoint cannot
// stall startup.
func (c *Config) HealthCheckTimeout() time.Duration {
	if c.Timeouts.HealthCheckSeconds <= 0 {
		return DefaultHealthCheckSecs * time.Second
	}
	return time.Duration(c.Timeouts.HealthCheckSeconds) * time.Second
}

// TimeoutFor returns the request timeout for a provider. Local providers get
// the longer budget.
func (c *Config) TimeoutFor(provider string) time.Duration {
	if provider == ProviderOllama {
		return time.Duration(c.Timeouts.LocalSeconds) * time.Second
	}
	return time.Duration(c.Timeouts.CloudSeconds) * time.Second
}
