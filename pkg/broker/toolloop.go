package broker

import (
	"context"
	"fmt"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tools"
)

// ExecuteToolCalls runs the tool calls an assistant turn requested, commits
// one tool-role message per result, then asks the model to continue with the
// updated history. The conversation must already exist; tool execution makes
// no sense without the assistant turn that requested it.
//
// Individual tool failures do not abort the loop: failed results are fed back
// to the model as error text, and the model decides what to do with them.
func (b *Broker) ExecuteToolCalls(ctx context.Context, conversationID string, calls []tools.ToolCall, opts tools.ExecuteOptions) (llm.CompletionResponse, []tools.ExecutionResult, error) {
	conv, ok := b.lookup(conversationID)
	if !ok {
		return llm.CompletionResponse{}, nil, ErrConversationNotFound
	}
	if len(calls) == 0 {
		return llm.CompletionResponse{}, nil, fmt.Errorf("no tool calls to execute")
	}

	results := b.executor.Execute(ctx, calls, opts)

	toolMessages := make([]llm.CompletionMessage, len(results))
	for i := range results {
		r := &results[i]
		content := r.Content
		if !r.Success {
			content = fmt.Sprintf("tool error (%s): %s", r.ErrorCode, r.Error)
		}
		toolMessages[i] = llm.NewToolResultMessage(r.ToolCallID, r.ToolName, content)
	}
	if err := b.commit(ctx, conv, toolMessages...); err != nil {
		return llm.CompletionResponse{}, results, err
	}

	// Continue the conversation with the results in view. The follow-up is a
	// normal completion turn and may itself request more tool calls.
	turn := Turn{ConversationID: conversationID}
	prepared := b.snapshot(conv)
	resp, err := b.completeWithFallback(ctx, prepared, &turn)
	if err != nil {
		return llm.CompletionResponse{}, results, err
	}

	assistant := llm.CompletionMessage{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
	if err := b.commit(ctx, conv, assistant); err != nil {
		return llm.CompletionResponse{}, results, err
	}
	return resp, results, nil
}
