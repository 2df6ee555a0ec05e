// Package tools provides the tool registry, argument validation, and the
// executor that runs model-requested tool calls.
package tools

import (
	"context"
	"time"
)

// ToolCall represents a tool invocation requested by a model. Arguments is
// the raw JSON string exactly as the provider produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Property describes one field of a tool's input schema. Nested object and
// array shapes recurse through Properties and Items.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema describes a tool's expected arguments as a JSON object schema.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition describes a registered tool to providers and validators.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ExecFunc is the function a tool runs. Arguments arrive parsed and
// schema-validated. Returned errors become failed ExecutionResults, never
// conversation-level failures.
type ExecFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a definition with its execution function.
type Tool struct {
	Exec                 ExecFunc
	Definition           ToolDefinition
	RequiresConfirmation bool
}

// Failure codes recorded on ExecutionResult.ErrorCode. Tool-scoped failures
// never abort sibling calls or the conversation.
const (
	ErrCodeToolNotFound  = "tool_not_found"
	ErrCodeArgumentParse = "argument_parse_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeDeclined      = "declined"
	ErrCodeExecution     = "execution_error"
)

// ExecutionResult is the outcome of one ToolCall. Results are returned in
// input order; result[i] always answers calls[i].
type ExecutionResult struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	Content    string        `json:"content,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
}

// ConfirmFunc asks whether a confirmation-gated tool may run. Returning
// false records a declined result without invoking the tool.
type ConfirmFunc func(call ToolCall) bool

// ExecuteOptions control executor behavior for one batch of calls. The zero
// value means parallel execution with no confirmation gating.
type ExecuteOptions struct {
	Confirm    ConfirmFunc
	Sequential bool
}
