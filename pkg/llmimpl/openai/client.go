// Package openai provides the OpenAI chat-completions adapter for the
// llm.Client interface.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/llmimpl/internal/classify"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

// Client wraps the official OpenAI client to implement the llm.Client interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client    openai.Client
	model     string
	caps      llm.Capabilities
	estimator *tokens.Estimator
}

// New creates an OpenAI client from adapter configuration. Middleware is
// applied at a higher level.
func New(cfg llm.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openai config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "openai API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	info, _ := config.GetModelInfo(cfg.ModelName)

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.ModelName,
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

// buildParams converts the unified request into chat-completion parameters.
func (c *Client) buildParams(in llm.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	if len(in.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("message list cannot be empty")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				toolCalls[j] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llm.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if c.caps.MaxOutputTokens > 0 && maxTokens > c.caps.MaxOutputTokens {
		maxTokens = c.caps.MaxOutputTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.model,
		Temperature:         openai.Float(float64(in.Temperature)),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if in.TopP > 0 {
		params.TopP = openai.Float(float64(in.TopP))
	}
	if len(in.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: in.StopSequences,
		}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
	}

	return params, nil
}

func convertTools(defs []tools.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]any, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: openai.FunctionParameters(map[string]any{
					"type":       "object",
					"properties": properties,
					"required":   def.InputSchema.Required,
				}),
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertProperty(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		nested := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertProperty(child)
			}
		}
		schema["properties"] = nested
	}
	return schema
}

// Complete implements the llm.Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no choices returned from OpenAI API")
	}

	choice := &resp.Choices[0]
	var toolCalls []tools.ToolCall
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		toolCalls = append(toolCalls, tools.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: normalizeStopReason(string(choice.FinishReason)),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream implements the llm.Client interface. Tool-call fragments carry the
// vendor chunk index so consumers can reassemble parallel calls.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan llm.StreamChunk, 32)
	go func() {
		defer close(ch)

		// Vendors emit the id and name once per call; remember them so every
		// fragment for the same index is self-describing.
		type aggCall struct {
			id   string
			name string
		}
		agg := make(map[int64]*aggCall)
		var usage llm.Usage

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = llm.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			for i := range chunk.Choices {
				choice := &chunk.Choices[i]
				if choice.Delta.Content != "" {
					ch <- llm.StreamChunk{Content: choice.Delta.Content}
				}
				for j := range choice.Delta.ToolCalls {
					tc := &choice.Delta.ToolCalls[j]
					ac, ok := agg[tc.Index]
					if !ok {
						ac = &aggCall{}
						agg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
						ID:                ac.id,
						Name:              ac.name,
						ArgumentsFragment: tc.Function.Arguments,
						Index:             int(tc.Index),
					}}
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err), Done: true}
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
func (c *Client) CountTokens(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		msg := &messages[i]
		total += c.estimator.CountWithOverhead(msg.Content)
		for j := range msg.ToolCalls {
			total += c.estimator.Count(msg.ToolCalls[j].Name)
			total += c.estimator.Count(msg.ToolCalls[j].Arguments)
		}
	}
	return total
}

// Capabilities reports the model's capability row.
func (c *Client) Capabilities() llm.Capabilities {
	return c.caps
}

// HealthCheck probes the provider by fetching model metadata.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.Models.Get(ctx, c.model)
	if err != nil {
		return llmerrors.NewUnavailableError(config.ProviderOpenAI, err)
	}
	return nil
}

// ProviderName returns the vendor name.
func (c *Client) ProviderName() string {
	return config.ProviderOpenAI
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// normalizeStopReason maps OpenAI finish reasons to the unified vocabulary.
func normalizeStopReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return reason
	}
}

// classifyError maps OpenAI SDK errors to the structured error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classify.Error(err, apierr.StatusCode)
	}

	return classify.Error(err, 0)
}
