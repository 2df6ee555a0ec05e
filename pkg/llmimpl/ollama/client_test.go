package ollama

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
	server := testkit.NewOllamaServer(script)
	t.Cleanup(server.Close)

	client, err := New(llm.Config{
		BaseURL:   server.URL,
		ModelName: "llama3.1:8b",
	})
	require.NoError(t, err)
	return client
}

func simpleRequest() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserMessage("What is 2+2?"),
	})
}

func TestNewStripsOllamaPrefix(t *testing.T) {
	client, err := New(llm.Config{ModelName: "ollama:llama3.1:8b"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", client.ModelName())
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
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
}

func TestCompleteServerError(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{
		StatusCode:   500,
		ErrorMessage: "model crashed",
	})

	_, err := client.Complete(context.Background(), simpleRequest())
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(err))
}

func TestStreamDeliversPartialsAndUsage(t *testing.T) {
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
	assert.Equal(t, 27, usage.TotalTokens)
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, testkit.VendorScript{})
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestHealthCheckUnreachable(t *testing.T) {
	client, err := New(llm.Config{
		BaseURL:   "http://127.0.0.1:1",
		ModelName: "llama3.1:8b",
	})
	require.NoError(t, err)

	err = client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeUnavailable, llmerrors.TypeOf(err))
}

func TestClassifyModelNotFound(t *testing.T) {
	err := classifyError(assert.AnError)
	require.Error(t, err)

	notFound := classifyError(errModelMissing{})
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(notFound))
}

type errModelMissing struct{}

func (errModelMissing) Error() string { return `model "nope" not found, try pulling it first` }

func TestBuildRequestSampling(t *testing.T) {
	c := newTestClient(t, testkit.VendorScript{Content: "ok"})

	req, err := c.buildRequest(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
		TopP:     0.85,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, float32(0.85), req.Options["top_p"])

	req, err = c.buildRequest(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	}, false)
	require.NoError(t, err)
	_, set := req.Options["top_p"]
	assert.False(t, set)
}

func TestBuildRequestToolCallArguments(t *testing.T) {
	c := newTestClient(t, testkit.VendorScript{Content: "ok"})

	req, err := c.buildRequest(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewUserMessage("weather?"),
			{
				Role: llm.RoleAssistant,
				ToolCalls: []tools.ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo","unit":"c"}`},
				},
			},
			llm.NewToolResultMessage("call_1", "get_weather", "5C"),
		},
	}, false)
	require.NoError(t, err)

	args := req.Messages[1].ToolCalls[0].Function.Arguments
	require.Equal(t, 2, args.Len())
	city, ok := args.Get("city")
	require.True(t, ok)
	assert.Equal(t, "Oslo", city)

	_, err = c.buildRequest(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{
				Role:      llm.RoleAssistant,
				ToolCalls: []tools.ToolCall{{ID: "call_2", Name: "get_weather", Arguments: `{broken`}},
			},
		},
	}, false)
	require.Error(t, err)
}

func TestConvertToolsProperties(t *testing.T) {
	defs := []tools.ToolDefinition{{
		Name:        "get_weather",
		Description: "Weather lookup",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"city": {Type: "string", Description: "City name"},
				"unit": {Type: "string", Enum: []string{"c", "f"}},
			},
			Required: []string{"city"},
		},
	}}

	converted := convertTools(defs)
	require.Len(t, converted, 1)

	params := converted[0].Function.Parameters
	require.NotNil(t, params.Properties)
	assert.Equal(t, 2, params.Properties.Len())
	city, ok := params.Properties.Get("city")
	require.True(t, ok)
	assert.Equal(t, "City name", city.Description)
	unit, ok := params.Properties.Get("unit")
	require.True(t, ok)
	assert.Equal(t, []any{"c", "f"}, unit.Enum)
}
