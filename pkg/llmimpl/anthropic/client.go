// Package anthropic provides the Claude adapter for the llm.Client interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/llmimpl/internal/classify"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

// Client wraps the Anthropic API client to implement the llm.Client interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	caps      llm.Capabilities
	estimator *tokens.Estimator
}

// New creates a Claude client from adapter configuration. Middleware is
// applied at a higher level.
func New(cfg llm.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anthropic config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	info, _ := config.GetModelInfo(cfg.ModelName)

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(cfg.ModelName),
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

// buildParams converts the unified request into Anthropic message parameters.
// System messages are extracted to the top-level system field; tool results
// become tool_result blocks inside user messages.
func (c *Client) buildParams(in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	if len(in.Messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var messages []anthropic.MessageParam
	// Pending user-side blocks awaiting flush. Anthropic requires strict
	// user/assistant alternation, so consecutive user and tool messages
	// merge into a single user turn.
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}

		case llm.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		case llm.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				} else {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}
	flush()

	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("must have at least one non-system message")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if c.caps.MaxOutputTokens > 0 && maxTokens > c.caps.MaxOutputTokens {
		maxTokens = c.caps.MaxOutputTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if in.TopP > 0 {
		params.TopP = anthropic.Float(float64(in.TopP))
	}
	if len(in.StopSequences) > 0 {
		params.StopSequences = in.StopSequences
	}
	if systemPrompt := strings.Join(systemParts, "\n\n"); systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = convertToolChoice(in.ToolChoice)
	}

	return params, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := anthropic.ToolInputSchemaParam{
			Type:     "object",
			Required: def.InputSchema.Required,
		}
		if len(def.InputSchema.Properties) > 0 {
			props := make(map[string]any, len(def.InputSchema.Properties))
			for name := range def.InputSchema.Properties {
				prop := def.InputSchema.Properties[name]
				props[name] = convertProperty(&prop)
			}
			schema.Properties = props
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, def.Name))
	}
	return out
}

func convertProperty(prop *tools.Property) map[string]any {
	m := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		m["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		m["enum"] = prop.Enum
	}
	if prop.Items != nil {
		m["items"] = convertProperty(prop.Items)
	}
	if len(prop.Properties) > 0 {
		nested := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertProperty(child)
			}
		}
		m["properties"] = nested
	}
	return m
}

func convertToolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "any", "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// Complete implements the llm.Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	var toolCalls []tools.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			toolCalls = append(toolCalls, tools.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: normalizeStopReason(string(resp.StopReason)),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// Stream implements the llm.Client interface using server-sent events.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.StreamChunk, 32)
	go func() {
		defer close(ch)

		var usage llm.Usage
		// Tool-use blocks stream their id and name in the start event and
		// their arguments as json fragments; track both per block index.
		type blockInfo struct {
			id   string
			name string
		}
		activeBlocks := make(map[int64]blockInfo)

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				msg := event.AsMessageStart().Message
				usage.PromptTokens = int(msg.Usage.InputTokens)

			case "content_block_start":
				start := event.AsContentBlockStart()
				if start.ContentBlock.Type == "tool_use" {
					activeBlocks[start.Index] = blockInfo{
						id:   start.ContentBlock.ID,
						name: start.ContentBlock.Name,
					}
					ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
						ID:    start.ContentBlock.ID,
						Name:  start.ContentBlock.Name,
						Index: int(start.Index),
					}}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				switch delta.Delta.Type {
				case "text_delta":
					ch <- llm.StreamChunk{Content: delta.Delta.Text}
				case "input_json_delta":
					info := activeBlocks[delta.Index]
					ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
						ID:                info.id,
						Name:              info.name,
						ArgumentsFragment: delta.Delta.PartialJSON,
						Index:             int(delta.Index),
					}}
				}

			case "message_delta":
				msgDelta := event.AsMessageDelta()
				usage.CompletionTokens = int(msgDelta.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err), Done: true}
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		ch <- llm.StreamChunk{Usage: &usage}
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
	_, err := c.client.Models.Get(ctx, string(c.model), anthropic.ModelGetParams{})
	if err != nil {
		return llmerrors.NewUnavailableError(config.ProviderAnthropic, err)
	}
	return nil
}

// ProviderName returns the vendor name.
func (c *Client) ProviderName() string {
	return config.ProviderAnthropic
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return string(c.model)
}

// normalizeStopReason maps Anthropic stop reasons to the unified vocabulary.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "end_turn"
	case "max_tokens":
		return "max_tokens"
	case "tool_use":
		return "tool_use"
	default:
		return reason
	}
}

// classifyError maps Anthropic SDK errors to the structured error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classify.Error(err, apierr.StatusCode)
	}

	return classify.Error(err, 0)
}
