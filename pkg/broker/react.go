package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tools"
)

// Prompt-driven tool calling for models without native function support.
// The model is instructed to emit Action / Action Input lines; the broker
// parses them back into ToolCalls so the rest of the pipeline is identical
// to the native path.

const reactInstructionsHeader = `You have access to the following tools. To use a tool, respond with exactly:

Action: <tool name>
Action Input: <JSON object with the tool arguments>

Emit one Action/Action Input pair per tool you want to invoke. If no tool is needed, answer normally.

Available tools:`

// injectReActPrompt appends the tool protocol to the system prefix, adding a
// system message when the request has none.
func injectReActPrompt(messages []llm.CompletionMessage, defs []tools.ToolDefinition) []llm.CompletionMessage {
	var sb strings.Builder
	sb.WriteString(reactInstructionsHeader)
	for i := range defs {
		def := &defs[i]
		sb.WriteString(fmt.Sprintf("\n- %s: %s", def.Name, def.Description))
		if len(def.InputSchema.Properties) > 0 {
			if schema, err := json.Marshal(def.InputSchema); err == nil {
				sb.WriteString(fmt.Sprintf("\n  arguments schema: %s", schema))
			}
		}
	}
	prompt := sb.String()

	out := make([]llm.CompletionMessage, 0, len(messages)+1)
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		merged := messages[0]
		merged.Content = merged.Content + "\n\n" + prompt
		out = append(out, merged)
		out = append(out, messages[1:]...)
		return out
	}
	out = append(out, llm.NewSystemMessage(prompt))
	return append(out, messages...)
}

// parseReActCalls extracts Action / Action Input pairs from completion text.
// Ids are synthesized since the model has no concept of call correlation.
// Malformed pairs are skipped rather than failing the turn.
func parseReActCalls(content string) []tools.ToolCall {
	var calls []tools.ToolCall
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		name, ok := strings.CutPrefix(strings.TrimSpace(lines[i]), "Action:")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		args := "{}"
		for j := i + 1; j < len(lines); j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" {
				continue
			}
			if input, found := strings.CutPrefix(trimmed, "Action Input:"); found {
				input = strings.TrimSpace(input)
				// Arguments may continue over following lines until the JSON
				// object closes.
				for k := j + 1; k < len(lines) && !json.Valid([]byte(input)); k++ {
					next := strings.TrimSpace(lines[k])
					if strings.HasPrefix(next, "Action:") {
						break
					}
					input += next
				}
				if json.Valid([]byte(input)) {
					args = input
				}
				i = j
			}
			break
		}

		calls = append(calls, tools.ToolCall{
			ID:        "react_" + uuid.NewString(),
			Name:      name,
			Arguments: args,
		})
	}

	return calls
}
