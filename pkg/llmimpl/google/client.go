// Package google provides the Gemini adapter for the llm.Client interface.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/llmimpl/internal/classify"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

// Client wraps the Google genai client to implement the llm.Client interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client    *genai.Client
	model     string
	caps      llm.Capabilities
	estimator *tokens.Estimator
}

// New creates a Gemini client from adapter configuration. Middleware is
// applied at a higher level.
func New(ctx context.Context, cfg llm.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid google config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "google API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	info, _ := config.GetModelInfo(cfg.ModelName)

	return &Client{
		client: client,
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

// buildContents converts the unified request into genai contents plus the
// generation config. Gemini has no message-level tool call ids; the function
// response carries the tool name instead.
func (c *Client) buildContents(in llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(in.Messages) == 0 {
		return nil, nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var contents []*genai.Content

	// Tool-role messages reference calls by id; Gemini wants the function
	// name, so remember which name each id belongs to.
	callNames := make(map[string]string)

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				callNames[tc.ID] = tc.Name
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.ID, err)
					}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

		case llm.RoleTool:
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		default:
			return nil, nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}

	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("must have at least one non-system message")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if c.caps.MaxOutputTokens > 0 && maxTokens > c.caps.MaxOutputTokens {
		maxTokens = c.caps.MaxOutputTokens
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(in.Temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if in.TopP > 0 {
		genConfig.TopP = genai.Ptr(in.TopP)
	}
	if len(in.StopSequences) > 0 {
		genConfig.StopSequences = in.StopSequences
	}
	if systemPrompt := strings.Join(systemParts, "\n\n"); systemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	if len(in.Tools) > 0 {
		genConfig.Tools = convertTools(in.Tools)
		mode := genai.FunctionCallingConfigModeAuto
		if in.ToolChoice == "any" || in.ToolChoice == "required" {
			mode = genai.FunctionCallingConfigModeAny
		}
		genConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}

	return contents, genConfig, nil
}

func convertTools(defs []tools.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties[name] = convertProperty(&prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{
		Type:        schemaType(prop.Type),
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	if prop.Items != nil {
		schema.Items = convertProperty(prop.Items)
	}
	if len(prop.Properties) > 0 {
		nested := make(map[string]*genai.Schema, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertProperty(child)
			}
		}
		schema.Properties = nested
	}
	return schema
}

func schemaType(jsonType string) genai.Type {
	switch jsonType {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Complete implements the llm.Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, genConfig, err := c.buildContents(in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	var toolCalls []tools.ToolCall
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			tc, convErr := convertFunctionCall(part.FunctionCall)
			if convErr != nil {
				return llm.CompletionResponse{}, convErr
			}
			toolCalls = append(toolCalls, tc)
		}
	}

	out := llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: normalizeStopReason(string(candidate.FinishReason), len(toolCalls) > 0),
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// Stream implements the llm.Client interface. Gemini delivers function calls
// whole within stream responses, never fragmented.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	contents, genConfig, err := c.buildContents(in)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	ch := make(chan llm.StreamChunk, 32)
	go func() {
		defer close(ch)

		toolIndex := 0
		var usage llm.Usage

		for resp, streamErr := range c.client.Models.GenerateContentStream(ctx, c.model, contents, genConfig) {
			if streamErr != nil {
				ch <- llm.StreamChunk{Error: classifyError(streamErr), Done: true}
				return
			}
			if resp.UsageMetadata != nil {
				usage = llm.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					ch <- llm.StreamChunk{Content: part.Text}
				}
				if part.FunctionCall != nil {
					tc, convErr := convertFunctionCall(part.FunctionCall)
					if convErr != nil {
						ch <- llm.StreamChunk{Error: convErr, Done: true}
						return
					}
					ch <- llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
						ID:                tc.ID,
						Name:              tc.Name,
						ArgumentsFragment: tc.Arguments,
						Index:             toolIndex,
					}}
					toolIndex++
				}
			}
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
	_, err := c.client.Models.Get(ctx, c.model, nil)
	if err != nil {
		return llmerrors.NewUnavailableError(config.ProviderGoogle, err)
	}
	return nil
}

// ProviderName returns the vendor name.
func (c *Client) ProviderName() string {
	return config.ProviderGoogle
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// convertFunctionCall converts a genai function call, synthesizing a call id
// since Gemini does not assign them.
func convertFunctionCall(fc *genai.FunctionCall) (tools.ToolCall, error) {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		return tools.ToolCall{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "function call arguments not serializable")
	}
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return tools.ToolCall{
		ID:        id,
		Name:      fc.Name,
		Arguments: string(args),
	}, nil
}

// normalizeStopReason maps Gemini finish reasons to the unified vocabulary.
func normalizeStopReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return reason
	}
}

// classifyError maps genai SDK errors to the structured error types.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return classify.Error(err, apierr.Code)
	}

	return classify.Error(err, 0)
}
