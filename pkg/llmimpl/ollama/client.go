// Package ollama provides the local Ollama adapter for the llm.Client
// interface. Ollama runs open-source models without an API key.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/llmimpl/internal/classify"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

// DefaultHostURL is used when no base URL is configured.
const DefaultHostURL = "http://localhost:11434"

// Client wraps the Ollama API client to implement the llm.Client interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client    *api.Client
	model     string
	hostURL   string
	caps      llm.Capabilities
	estimator *tokens.Estimator
}

// New creates an Ollama client from adapter configuration. No API key is
// required; BaseURL overrides the default local server address.
func New(cfg llm.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ollama config: %w", err)
	}

	hostURL := cfg.BaseURL
	if hostURL == "" {
		hostURL = DefaultHostURL
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host URL %q: %w", hostURL, err)
	}

	// Capability lookup tolerates tags like "llama3.1:8b".
	baseModel := strings.SplitN(strings.TrimPrefix(cfg.ModelName, "ollama:"), ":", 2)[0]
	info, known := config.GetModelInfo(baseModel)
	if !known {
		info, _ = config.GetModelInfo(cfg.ModelName)
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   strings.TrimPrefix(cfg.ModelName, "ollama:"),
		hostURL: hostURL,
		caps: llm.Capabilities{
			TokenizerClass:      info.TokenizerClass,
			ContextWindowTokens: info.MaxContextTokens,
			MaxOutputTokens:     info.MaxOutputTokens,
			SupportsTools:       info.SupportsTools,
			SupportsStreaming:   info.SupportsStreaming,
			SupportsVision:      info.SupportsVision,
		},
		estimator: tokens.NewEstimator(info.TokenizerClass),
	}, nil
}

// buildRequest converts the unified request into an Ollama chat request.
func (o *Client) buildRequest(in llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		ollamaMsg := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			ollamaMsg.ToolCallID = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			ollamaMsg.ToolCalls = make([]api.ToolCall, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args := api.NewToolCallFunctionArguments()
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.ID, err)
					}
				}
				ollamaMsg.ToolCalls[j] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}
		messages = append(messages, ollamaMsg)
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if in.TopP > 0 {
		req.Options["top_p"] = in.TopP
	}
	if len(in.StopSequences) > 0 {
		req.Options["stop"] = in.StopSequences
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	return req, nil
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		// Sorted so the schema serializes identically across requests.
		names := make([]string, 0, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		properties := api.NewToolPropertiesMap()
		for _, name := range names {
			prop := def.InputSchema.Properties[name]
			properties.Set(name, convertProperty(&prop))
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		out.Enum = enumVals
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	if len(prop.Properties) > 0 {
		names := make([]string, 0, len(prop.Properties))
		for name := range prop.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		nested := api.NewToolPropertiesMap()
		for _, name := range names {
			if child := prop.Properties[name]; child != nil {
				nested.Set(name, convertProperty(child))
			}
		}
		out.Properties = nested
	}
	return out
}

// Complete implements the llm.Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := o.buildRequest(in, false)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.Metrics.PromptEvalCount,
			CompletionTokens: response.Metrics.EvalCount,
			TotalTokens:      response.Metrics.PromptEvalCount + response.Metrics.EvalCount,
		},
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls, err = convertToolCalls(response.Message.ToolCalls)
		if err != nil {
			return llm.CompletionResponse{}, err
		}
	}

	return result, nil
}

// Stream implements the llm.Client interface using Ollama's callback-based
// chat streaming.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := o.buildRequest(in, true)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	ch := make(chan llm.StreamChunk, 32)
	go func() {
		defer close(ch)

		toolIndex := 0
		var usage llm.Usage

		chatErr := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- llm.StreamChunk{Content: resp.Message.Content}
			}
			for i := range resp.Message.ToolCalls {
				tc := &resp.Message.ToolCalls[i]
				args, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					return fmt.Errorf("tool call arguments not serializable: %w", err)
				}
				id := tc.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				// Ollama delivers tool calls whole, never fragmented.
				ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
					ID:                id,
					Name:              tc.Function.Name,
					ArgumentsFragment: string(args),
					Index:             toolIndex,
				}}
				toolIndex++
			}
			if resp.Done {
				usage = llm.Usage{
					PromptTokens:     resp.Metrics.PromptEvalCount,
					CompletionTokens: resp.Metrics.EvalCount,
					TotalTokens:      resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount,
				}
			}
			return nil
		})

		if chatErr != nil {
			ch <- llm.StreamChunk{Error: classifyError(chatErr), Done: true}
			return
		}

		if usage.TotalTokens > 0 {
			ch <- llm.StreamChunk{Usage: &usage}
		}
		ch <- llm.StreamChunk{Done: true}
	}()

	return ch, nil
}

// CountTokens estimates the token footprint of messages.
func (o *Client) CountTokens(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		msg := &messages[i]
		total += o.estimator.CountWithOverhead(msg.Content)
		for j := range msg.ToolCalls {
			total += o.estimator.Count(msg.ToolCalls[j].Name)
			total += o.estimator.Count(msg.ToolCalls[j].Arguments)
		}
	}
	return total
}

// Capabilities reports the model's capability row.
func (o *Client) Capabilities() llm.Capabilities {
	return o.caps
}

// HealthCheck probes the local server by listing installed models.
func (o *Client) HealthCheck(ctx context.Context) error {
	_, err := o.client.List(ctx)
	if err != nil {
		return llmerrors.NewUnavailableError(config.ProviderOllama, err)
	}
	return nil
}

// ProviderName returns the vendor name.
func (o *Client) ProviderName() string {
	return config.ProviderOllama
}

// ModelName returns the configured model identifier.
func (o *Client) ModelName() string {
	return o.model
}

// convertToolCalls extracts tool calls from an Ollama response, synthesizing
// ids when the model omits them.
func convertToolCalls(calls []api.ToolCall) ([]tools.ToolCall, error) {
	result := make([]tools.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "tool call arguments not serializable")
		}
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		result[i] = tools.ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: string(args),
		}
	}
	return result, nil
}

// stopReason converts Ollama's done_reason to the unified vocabulary.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	if len(resp.Message.ToolCalls) > 0 {
		return "tool_use"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// classifyError converts Ollama errors to the structured error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	if strings.Contains(errStr, "model") && strings.Contains(errStr, "not found") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "ollama model not found")
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classify.Error(err, statusErr.StatusCode)
	}

	return classify.Error(err, 0)
}
