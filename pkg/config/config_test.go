package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelProviderKnown(t *testing.T) {
	provider, err := GetModelProvider("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, provider)

	provider, err = GetModelProvider("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)
}

func TestGetModelProviderPatternInference(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-9-hypothetical", ProviderAnthropic},
		{"gpt-7-turbo", ProviderOpenAI},
		{"o3-pro", ProviderOpenAI},
		{"gemini-4.0-ultra", ProviderGoogle},
		{"llama4-scout", ProviderOllama},
		{"qwen3-coder", ProviderOllama},
		{"ollama:custom-model", ProviderOllama},
	}
	for _, tt := range tests {
		provider, err := GetModelProvider(tt.model)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.provider, provider, tt.model)
	}
}

func TestGetModelProviderUnknown(t *testing.T) {
	_, err := GetModelProvider("totally-unknown-model")
	assert.Error(t, err)
}

func TestGetModelInfoKnownRow(t *testing.T) {
	info, known := GetModelInfo("claude-sonnet-4-5")
	require.True(t, known)
	assert.Equal(t, ProviderAnthropic, info.Provider)
	assert.Equal(t, TokenizerClaude, info.TokenizerClass)
	assert.Equal(t, 200000, info.MaxContextTokens)
	assert.True(t, info.SupportsTools)
	assert.True(t, info.SupportsStreaming)
}

func TestGetModelInfoDefaultRow(t *testing.T) {
	info, known := GetModelInfo("gemini-unreleased-model")
	assert.False(t, known)
	assert.Equal(t, ProviderGoogle, info.Provider)
	assert.Equal(t, TokenizerGemini, info.TokenizerClass)
	assert.Equal(t, 32000, info.MaxContextTokens)
	assert.Equal(t, 4096, info.MaxOutputTokens)
	// Conservative default: no native tool calling assumed.
	assert.False(t, info.SupportsTools)
	assert.True(t, info.SupportsStreaming)
}

func TestGetModelInfoNoPatternMatch(t *testing.T) {
	info, known := GetModelInfo("mystery-9000")
	assert.False(t, known)
	assert.Empty(t, info.Provider)
	assert.Equal(t, TokenizerCL100K, info.TokenizerClass)
}
