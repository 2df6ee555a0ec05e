// Package testkit provides scripted LLM client doubles for tests.
package testkit

import (
	"context"
	"fmt"
	"sync"

	"llmbroker/pkg/llm"
)

// MockClient is a controllable llm.Client for tests. Responses and errors
// are consumed in order; every request is recorded.
//
//nolint:govet // test double, logical grouping preferred
type MockClient struct {
	mu sync.Mutex

	Responses []llm.CompletionResponse
	Errors    []error // consumed before responses; nil entries are skipped

	Provider  string
	Model     string
	Caps      llm.Capabilities
	HealthErr error

	Requests     []llm.CompletionRequest
	HealthChecks int

	respIndex int
	errIndex  int
}

// NewMockClient creates a mock with sensible defaults and the given scripted
// responses.
func NewMockClient(responses ...llm.CompletionResponse) *MockClient {
	return &MockClient{
		Responses: responses,
		Provider:  "mock",
		Model:     "mock-model",
		Caps: llm.Capabilities{
			TokenizerClass:      "claude",
			ContextWindowTokens: 200000,
			MaxOutputTokens:     4096,
			SupportsTools:       true,
			SupportsStreaming:   true,
		},
	}
}

// next pops the next scripted error or response.
func (m *MockClient) next(req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.errIndex < len(m.Errors) {
		err := m.Errors[m.errIndex]
		m.errIndex++
		if err != nil {
			return llm.CompletionResponse{}, err
		}
	}

	if m.respIndex >= len(m.Responses) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.Responses[m.respIndex]
	m.respIndex++
	return resp, nil
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return m.next(req)
}

// Stream returns the next scripted response as a chunk sequence: content in
// one chunk, tool calls as whole deltas, then usage and the terminal chunk.
func (m *MockClient) Stream(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk, len(resp.ToolCalls)+3)
	go func() {
		defer close(ch)
		if resp.Content != "" {
			ch <- llm.StreamChunk{Content: resp.Content}
		}
		for i := range resp.ToolCalls {
			tc := &resp.ToolCalls[i]
			ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
				ID:                tc.ID,
				Name:              tc.Name,
				ArgumentsFragment: tc.Arguments,
				Index:             i,
			}}
		}
		if resp.Usage.TotalTokens > 0 {
			usage := resp.Usage
			ch <- llm.StreamChunk{Usage: &usage}
		}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// CountTokens estimates four characters per token.
func (m *MockClient) CountTokens(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += len(messages[i].Content)/4 + 4
	}
	return total
}

// Capabilities returns the configured capability row.
func (m *MockClient) Capabilities() llm.Capabilities {
	return m.Caps
}

// HealthCheck returns the configured health error and counts the probe.
func (m *MockClient) HealthCheck(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthChecks++
	return m.HealthErr
}

// ProviderName returns the configured provider name.
func (m *MockClient) ProviderName() string {
	return m.Provider
}

// ModelName returns the configured model name.
func (m *MockClient) ModelName() string {
	return m.Model
}

// CallCount returns how many Complete/Stream calls were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, or false if none were made.
func (m *MockClient) LastRequest() (llm.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.CompletionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}
