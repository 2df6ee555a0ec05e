// Package config provides the static model capability table, the YAML config
// loader, and the encrypted secrets store.
package config

import (
	"fmt"
	"strings"
)

// Provider name constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Tokenizer family constants. Token estimation picks its heuristic from
// these; they name families, not exact vendor tokenizers.
const (
	TokenizerCL100K = "cl100k_base"
	TokenizerClaude = "claude"
	TokenizerGemini = "gemini"
	TokenizerLlama  = "llama"
)

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider          string  // API provider (anthropic, openai, google, ollama)
	TokenizerClass    string  // Tokenizer family for estimation
	InputCPM          float64 // Cost per million input tokens (USD)
	OutputCPM         float64 // Cost per million output tokens (USD)
	MaxContextTokens  int     // Maximum context window size in tokens
	MaxOutputTokens   int     // Maximum output tokens per request
	SupportsTools     bool    // Native tool/function calling
	SupportsStreaming bool    // Chunked streaming responses
	SupportsVision    bool    // Image inputs
}

// KnownModels registry contains capability and pricing information for common
// models. This is optional - unknown models fall back to pattern inference
// plus the conservative default row.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	"claude-3-7-sonnet-20250219": {
		Provider:          ProviderAnthropic,
		TokenizerClass:    TokenizerClaude,
		InputCPM:          3.0,
		OutputCPM:         15.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"claude-sonnet-4-5": {
		Provider:          ProviderAnthropic,
		TokenizerClass:    TokenizerClaude,
		InputCPM:          3.0,
		OutputCPM:         15.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"claude-opus-4-1": {
		Provider:          ProviderAnthropic,
		TokenizerClass:    TokenizerClaude,
		InputCPM:          15.0,
		OutputCPM:         75.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   16384,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"claude-haiku-4-5": {
		Provider:          ProviderAnthropic,
		TokenizerClass:    TokenizerClaude,
		InputCPM:          1.0,
		OutputCPM:         5.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},

	// OpenAI GPT models
	"gpt-4o": {
		Provider:          ProviderOpenAI,
		TokenizerClass:    TokenizerCL100K,
		InputCPM:          2.5,
		OutputCPM:         10.0,
		MaxContextTokens:  128000,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"gpt-4o-mini": {
		Provider:          ProviderOpenAI,
		TokenizerClass:    TokenizerCL100K,
		InputCPM:          0.15,
		OutputCPM:         0.6,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"o3-mini": {
		Provider:          ProviderOpenAI,
		TokenizerClass:    TokenizerCL100K,
		InputCPM:          1.1,
		OutputCPM:         4.4,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"o4-mini": {
		Provider:          ProviderOpenAI,
		TokenizerClass:    TokenizerCL100K,
		InputCPM:          1.1,
		OutputCPM:         4.4,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"gpt-5": {
		Provider:          ProviderOpenAI,
		TokenizerClass:    TokenizerCL100K,
		InputCPM:          20.0,
		OutputCPM:         60.0,
		MaxContextTokens:  128000,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},

	// Google Gemini models
	"gemini-2.0-flash": {
		Provider:          ProviderGoogle,
		TokenizerClass:    TokenizerGemini,
		InputCPM:          0.10,
		OutputCPM:         0.40,
		MaxContextTokens:  1048576,
		MaxOutputTokens:   8192,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},
	"gemini-2.5-flash": {
		Provider:          ProviderGoogle,
		TokenizerClass:    TokenizerGemini,
		InputCPM:          0.30,
		OutputCPM:         2.50,
		MaxContextTokens:  1048576,
		MaxOutputTokens:   65536,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	},

	// Ollama-served open models. Context windows reflect the default serving
	// configuration, not the theoretical maximum.
	"llama3.1": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  131072,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"llama3.2": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  131072,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"qwen2.5": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  32768,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"mistral": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  32768,
		MaxOutputTokens:   4096,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"phi4": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  16384,
		MaxOutputTokens:   4096,
		SupportsTools:     false,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
	"deepseek-r1": {
		Provider:          ProviderOllama,
		TokenizerClass:    TokenizerLlama,
		MaxContextTokens:  65536,
		MaxOutputTokens:   8192,
		SupportsTools:     false,
		SupportsStreaming: true,
		SupportsVision:    false,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model
// names. Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// tokenizerForProvider maps an inferred provider to its tokenizer family.
func tokenizerForProvider(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return TokenizerClaude
	case ProviderGoogle:
		return TokenizerGemini
	case ProviderOllama:
		return TokenizerLlama
	default:
		return TokenizerCL100K
	}
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
// Returns error if model cannot be mapped to a provider (FATAL).
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a conservative
// default row with inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	// Conservative defaults for unrecognized models: small window, no native
	// tool calling (the broker falls back to prompt-driven tool use).
	return ModelInfo{
		Provider:          provider,
		TokenizerClass:    tokenizerForProvider(provider),
		InputCPM:          0.0,
		OutputCPM:         0.0,
		MaxContextTokens:  32000,
		MaxOutputTokens:   4096,
		SupportsTools:     false,
		SupportsStreaming: true,
		SupportsVision:    false,
	}, false
}
