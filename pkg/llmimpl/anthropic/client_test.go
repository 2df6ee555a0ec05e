package anthropic

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
	server := testkit.NewAnthropicServer(script)
	t.Cleanup(server.Close)

	client, err := New(llm.Config{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		ModelName: "claude-3-7-sonnet-20250219",
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

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(llm.Config{ModelName: "claude-3-7-sonnet-20250219"})
	require.Error(t, err)

	_, err = New(llm.Config{APIKey: "k"})
	require.Error(t, err)
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
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompleteToolUse(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		ToolCall: &tools.ToolCall{
			ID:        "toolu_1",
			Name:      "get_weather",
			Arguments: `{"city":"Oslo"}`,
		},
	})

	resp, err := client.Complete(context.Background(), simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
}

func TestCompleteEmptyMessagesRejected(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{Content: "x"})

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
}

func TestCompleteClassifiesVendorErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantType   llmerrors.ErrorType
	}{
		{"unauthorized", 401, llmerrors.ErrorTypeAuth},
		{"rate limited", 429, llmerrors.ErrorTypeRateLimit},
		{"overloaded", 529, llmerrors.ErrorTypeTransient},
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

func TestStreamAccumulatesContent(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		Content:          "streamed reply",
		PromptTokens:     20,
		CompletionTokens: 7,
	})

	ch, err := client.Stream(context.Background(), simpleRequest())
	require.NoError(t, err)

	var content strings.Builder
	var usage *llm.Usage
	contentChunks := 0
	done := false
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			contentChunks++
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Done {
			done = true
		}
	}

	assert.Equal(t, "streamed reply", content.String())
	assert.GreaterOrEqual(t, contentChunks, 2, "content should arrive incrementally")
	assert.True(t, done)
	require.NotNil(t, usage)
	assert.Equal(t, 20, usage.PromptTokens)
	assert.Equal(t, 7, usage.CompletionTokens)
}

func TestStreamToolCallFragments(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		ToolCall: &tools.ToolCall{
			ID:        "toolu_2",
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
		if chunk.ToolCall.ID != "" {
			id = chunk.ToolCall.ID
		}
		if chunk.ToolCall.Name != "" {
			name = chunk.ToolCall.Name
		}
		args.WriteString(chunk.ToolCall.ArgumentsFragment)
	}

	assert.Equal(t, "toolu_2", id)
	assert.Equal(t, "lookup", name)
	assert.JSONEq(t, `{"q":"golang"}`, args.String())
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{Content: "x"})
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestCapabilitiesFromModelTable(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{})
	caps := client.Capabilities()
	assert.Equal(t, 200000, caps.ContextWindowTokens)
	assert.True(t, caps.SupportsTools)
	assert.True(t, caps.SupportsStreaming)
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, "end_turn", normalizeStopReason("end_turn"))
	assert.Equal(t, "end_turn", normalizeStopReason("stop_sequence"))
	assert.Equal(t, "max_tokens", normalizeStopReason("max_tokens"))
	assert.Equal(t, "tool_use", normalizeStopReason("tool_use"))
}

func TestBuildParamsSampling(t *testing.T) {
	c := newTestClient(t, testkit.VendorScript{Content: "ok"})

	params, err := c.buildParams(llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewUserMessage("hi")},
		MaxTokens:   64,
		Temperature: 0.3,
		TopP:        0.85,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(64), params.MaxTokens)
	require.True(t, params.TopP.Valid())
	assert.InDelta(t, 0.85, params.TopP.Value, 1e-6)

	// Unset TopP stays off the wire.
	params, err = c.buildParams(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.False(t, params.TopP.Valid())
}
