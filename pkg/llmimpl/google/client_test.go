package google

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tools"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), llm.Config{
		APIKey:    "test-key",
		ModelName: "gemini-2.0-flash",
	})
	require.NoError(t, err)
	return client
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), llm.Config{ModelName: "gemini-2.0-flash"})
	require.Error(t, err)
}

func TestBuildContentsRoles(t *testing.T) {
	client := newTestClient(t)

	contents, cfg, err := client.buildContents(llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("Be concise."),
		llm.NewUserMessage("weather?"),
		{
			Role: llm.RoleAssistant,
			ToolCalls: []tools.ToolCall{
				{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
			},
		},
		llm.NewToolResultMessage("call_1", "", "18C"),
	}))
	require.NoError(t, err)

	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "Be concise.", cfg.SystemInstruction.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", contents[1].Parts[0].FunctionCall.Name)

	// The tool result resolves its name through the call id.
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "18C", contents[2].Parts[0].FunctionResponse.Response["result"])
}

func TestBuildContentsRejectsEmptyAndSystemOnly(t *testing.T) {
	client := newTestClient(t)

	_, _, err := client.buildContents(llm.CompletionRequest{})
	require.Error(t, err)

	_, _, err = client.buildContents(llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("only system"),
	}))
	require.Error(t, err)
}

func TestBuildContentsToolConfig(t *testing.T) {
	client := newTestClient(t)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
	req.Tools = []tools.ToolDefinition{
		{Name: "lookup", Description: "find things", InputSchema: tools.InputSchema{Type: "object"}},
	}
	req.ToolChoice = "required"

	_, cfg, err := client.buildContents(req)
	require.NoError(t, err)
	require.Len(t, cfg.Tools, 1)
	require.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "lookup", cfg.Tools[0].FunctionDeclarations[0].Name)
	assert.Equal(t, genai.FunctionCallingConfigModeAny, cfg.ToolConfig.FunctionCallingConfig.Mode)
}

func TestConvertFunctionCallSynthesizesID(t *testing.T) {
	call, err := convertFunctionCall(&genai.FunctionCall{
		Name: "get_weather",
		Args: map[string]any{"city": "Oslo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "get_weather", call.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, call.Arguments)
	assert.NotEmpty(t, call.ID)
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, "end_turn", normalizeStopReason("STOP", false))
	assert.Equal(t, "max_tokens", normalizeStopReason("MAX_TOKENS", false))
	assert.Equal(t, "tool_use", normalizeStopReason("STOP", true))
}

func TestSchemaType(t *testing.T) {
	assert.Equal(t, genai.TypeString, schemaType("string"))
	assert.Equal(t, genai.TypeInteger, schemaType("integer"))
	assert.Equal(t, genai.TypeObject, schemaType("object"))
	assert.Equal(t, genai.TypeArray, schemaType("array"))
}

func TestBuildContentsSampling(t *testing.T) {
	client := newTestClient(t)

	_, cfg, err := client.buildContents(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
		TopP:     0.85,
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.85, *cfg.TopP, 1e-6)

	_, cfg, err = client.buildContents(llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Nil(t, cfg.TopP)
}
