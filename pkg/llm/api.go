// Package llm provides the unified completion types and the Client interface
// every provider adapter implements.
package llm

import (
	"context"
	"fmt"
	"io"

	"llmbroker/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant CompletionRole = "assistant"
	// RoleTool indicates a tool execution result fed back to the model.
	RoleTool CompletionRole = "tool"
)

const (
	// DefaultMaxTokens is the default response token cap when the caller does not set one.
	DefaultMaxTokens = 4096

	// TemperatureDefault is the default sampling temperature.
	TemperatureDefault = 0.7
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content    string
	Name       string           // tool name, set on tool-role messages when known
	ToolCallID string           // tool-role messages: id of the ToolCall this answers
	ToolCalls  []tools.ToolCall // assistant messages that requested tool invocations
	Role       CompletionRole
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages      []CompletionMessage
	Tools         []tools.ToolDefinition
	ToolChoice    string
	StopSequences []string
	MaxTokens     int
	Temperature   float32
	TopP          float32
}

// Usage reports token accounting from a provider response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse represents a response from a completion request.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionResponse struct {
	ToolCalls  []tools.ToolCall
	Content    string // Main response text
	StopReason string // Why the response stopped: "end_turn", "max_tokens", "tool_use", etc.
	Usage      Usage
}

// ToolCallDelta is an incremental tool-call fragment observed mid-stream.
// Vendors emit the id and name once and the arguments in pieces; fragments
// with the same Index belong to the same logical call.
type ToolCallDelta struct {
	ID                string
	Name              string
	ArgumentsFragment string
	Index             int
}

// StreamChunk represents a chunk of streamed completion response. Exactly one
// of Content, ToolCall, Usage, or Error is meaningful per chunk; the terminal
// chunk has Done set.
type StreamChunk struct {
	Error    error
	ToolCall *ToolCallDelta
	Usage    *Usage
	Content  string
	Done     bool
}

// Capabilities describes what a provider/model pair supports, resolved once
// at adapter initialization from the static model table.
type Capabilities struct {
	TokenizerClass      string
	ContextWindowTokens int
	MaxOutputTokens     int
	SupportsTools       bool
	SupportsStreaming   bool
	SupportsVision      bool
}

// Client defines the interface for provider adapters.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a forward-only chunk sequence. The
	// returned channel is closed after the terminal chunk.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// CountTokens estimates the token footprint of messages. Estimates only,
	// calibrated per tokenizer family.
	CountTokens(messages []CompletionMessage) int

	// Capabilities reports the model's capability row.
	Capabilities() Capabilities

	// HealthCheck probes the provider with a bounded, lightweight request.
	HealthCheck(ctx context.Context) error

	// ProviderName returns the vendor name ("anthropic", "openai", ...).
	ProviderName() string

	// ModelName returns the configured model identifier.
	ModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// NewToolResultMessage creates a tool-role message answering the given call id.
func NewToolResultMessage(toolCallID, toolName, content string) CompletionMessage {
	return CompletionMessage{
		Role:       RoleTool,
		ToolCallID: toolCallID,
		Name:       toolName,
		Content:    content,
	}
}

// Config represents configuration for a provider adapter.
type Config struct {
	APIKey      string
	BaseURL     string // optional override, used by local providers
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate validates the adapter configuration. Local providers pass an empty
// APIKey; everyone needs a model name.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}

// StreamToReader converts a stream channel to an io.Reader over the content
// deltas. Tool-call and usage chunks are skipped.
func StreamToReader(stream <-chan StreamChunk) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer func() {
			_ = pw.Close()
		}()
		for chunk := range stream {
			if chunk.Error != nil {
				pw.CloseWithError(chunk.Error)
				return
			}
			if chunk.Content != "" {
				if _, err := pw.Write([]byte(chunk.Content)); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return pr
}
