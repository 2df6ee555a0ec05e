package openai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/testkit"
	"llmbroker/pkg/tools"
)

func newTestClient(t *testing.T, script testkit.VendorScript) *Client {
	t.Helper()
	server := testkit.NewOpenAIServer(script)
	t.Cleanup(server.Close)

	client, err := New(llm.Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		ModelName: "gpt-4o",
	})
	require.NoError(t, err)
	return client
}

func simpleRequest() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("Be concise."),
		llm.NewUserMessage("What is 2+2?"),
	})
}

func TestCompleteText(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		Content:          "4",
		PromptTokens:     12,
		CompletionTokens: 3,
	})

	resp, err := client.Complete(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteToolCalls(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		ToolCall: &tools.ToolCall{
			ID:        "call_1",
			Name:      "get_weather",
			Arguments: `{"city":"Oslo"}`,
		},
	})

	resp, err := client.Complete(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
}

func TestCompleteClassifiesVendorErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantType   llmerrors.ErrorType
	}{
		{"unauthorized", 401, llmerrors.ErrorTypeAuth},
		{"rate limited", 429, llmerrors.ErrorTypeRateLimit},
		{"server error", 500, llmerrors.ErrorTypeTransient},
		{"bad request", 400, llmerrors.ErrorTypeBadPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, testkit.VendorScript{
				StatusCode:   tt.statusCode,
				ErrorMessage: "mock failure",
			})

			_, err := client.Complete(context.Background(), simpleRequest())
			require.Error(t, err)
			assert.Equal(t, tt.wantType, llmerrors.TypeOf(err))
		})
	}
}

func TestStreamAccumulatesContentAndUsage(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		Content:          "streamed reply",
		PromptTokens:     20,
		CompletionTokens: 7,
	})

	ch, err := client.Stream(context.Background(), simpleRequest())
	require.NoError(t, err)

	var content strings.Builder
	var usage *llm.Usage
	done := false
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		content.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Done {
			done = true
		}
	}

	assert.Equal(t, "streamed reply", content.String())
	assert.True(t, done)
	require.NotNil(t, usage)
	assert.Equal(t, 27, usage.TotalTokens)
}

func TestStreamToolCallFragmentsShareIndex(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		ToolCall: &tools.ToolCall{
			ID:        "call_2",
			Name:      "lookup",
			Arguments: `{"q":"golang"}`,
		},
	})

	ch, err := client.Stream(context.Background(), simpleRequest())
	require.NoError(t, err)

	var id, name string
	var args strings.Builder
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		if chunk.ToolCall == nil {
			continue
		}
		assert.Equal(t, 0, chunk.ToolCall.Index)
		if chunk.ToolCall.ID != "" {
			id = chunk.ToolCall.ID
		}
		if chunk.ToolCall.Name != "" {
			name = chunk.ToolCall.Name
		}
		args.WriteString(chunk.ToolCall.ArgumentsFragment)
	}

	assert.Equal(t, "call_2", id)
	assert.Equal(t, "lookup", name)
	assert.JSONEq(t, `{"q":"golang"}`, args.String())
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{Content: "x"})
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, "end_turn", normalizeStopReason("stop"))
	assert.Equal(t, "max_tokens", normalizeStopReason("length"))
	assert.Equal(t, "tool_use", normalizeStopReason("tool_calls"))
	assert.Equal(t, "tool_use", normalizeStopReason("function_call"))
}

func TestBuildParamsSampling(t *testing.T) {
	c := newTestClient(t, testkit.VendorScript{Content: "ok"})

	params, err := c.buildParams(llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("hi")},
		Temperature: 0.3,
		TopP:        0.85,
	})
	require.NoError(t, err)
	require.True(t, params.TopP.Valid())
	assert.InDelta(t, 0.85, params.TopP.Value, 1e-6)

	params, err = c.buildParams(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.False(t, params.TopP.Valid())
}
