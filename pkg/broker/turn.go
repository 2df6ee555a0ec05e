package broker

import (
	"fmt"
	"strings"

	"llmbroker/pkg/llm"
)

// Snippet is one pre-retrieved context block supplied with a turn. The core
// does no retrieval itself; snippets arrive ranked and ready.
type Snippet struct {
	Label   string
	Content string
}

// Capability names accepted in Turn.RequiredCapabilities.
const (
	CapabilityTools     = "tools"
	CapabilityStreaming = "streaming"
	CapabilityVision    = "vision"
)

// Turn is one caller request against a conversation. SystemPrompt is only
// applied when the conversation is created; later turns inherit it.
// RequiredCapabilities restricts provider selection for this turn: candidates
// whose model lacks a named capability are skipped during the fallback walk.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Turn struct {
	ConversationID       string
	SystemPrompt         string
	UserMessage          string
	ContextSnippets      []Snippet
	RequiredCapabilities []string
	MaxTokens            int
	Temperature          float32
	TopP                 float32
}

func (t *Turn) validate() error {
	if t.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if t.UserMessage == "" {
		return fmt.Errorf("user message is required")
	}
	for _, name := range t.RequiredCapabilities {
		switch name {
		case CapabilityTools, CapabilityStreaming, CapabilityVision:
		default:
			return fmt.Errorf("unknown required capability %q", name)
		}
	}
	return nil
}

// meetsCapabilities reports whether a capability row satisfies every
// requirement named on the turn.
func meetsCapabilities(caps llm.Capabilities, required []string) bool {
	for _, name := range required {
		switch name {
		case CapabilityTools:
			if !caps.SupportsTools {
				return false
			}
		case CapabilityStreaming:
			if !caps.SupportsStreaming {
				return false
			}
		case CapabilityVision:
			if !caps.SupportsVision {
				return false
			}
		}
	}
	return true
}

// snippetMessage renders the turn's context snippets as one labeled system
// block, or returns false when the turn carries none. Snippets are
// call-scoped: they shape the request but are never written to history.
func (t *Turn) snippetMessage() (llm.CompletionMessage, bool) {
	if len(t.ContextSnippets) == 0 {
		return llm.CompletionMessage{}, false
	}

	var sb strings.Builder
	sb.WriteString("Relevant context:\n")
	for i := range t.ContextSnippets {
		s := &t.ContextSnippets[i]
		label := s.Label
		if label == "" {
			label = fmt.Sprintf("snippet %d", i+1)
		}
		sb.WriteString(fmt.Sprintf("\n[%s]\n%s\n", label, s.Content))
	}
	return llm.NewSystemMessage(sb.String()), true
}
