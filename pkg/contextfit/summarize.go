package contextfit

import (
	"fmt"
	"strings"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tokens"
)

// DefaultSummarizeThreshold is the message count above which older history
// is collapsed into a summary.
const DefaultSummarizeThreshold = 10

// maxSummaryLineChars caps each extracted line in the synthesized summary.
const maxSummaryLineChars = 120

// Summarize collapses everything older than the most recent threshold
// messages into one synthesized system message describing prior user intents
// and tool usage, then applies sliding-window as a safety net if the result
// still exceeds budget. The summary is heuristic extraction, not a model
// call.
type Summarize struct {
	est       *tokens.Estimator
	sliding   *SlidingWindow
	threshold int
}

// NewSummarize creates the summarize strategy. A non-positive threshold
// falls back to the default.
func NewSummarize(est *tokens.Estimator, threshold int) *Summarize {
	if threshold <= 0 {
		threshold = DefaultSummarizeThreshold
	}
	return &Summarize{
		est:       est,
		sliding:   NewSlidingWindow(est),
		threshold: threshold,
	}
}

// Name implements Fitter.
func (s *Summarize) Name() string {
	return "summarize"
}

// Fit implements Fitter.
func (s *Summarize) Fit(messages []llm.CompletionMessage, budget int) []llm.CompletionMessage {
	if len(messages) == 0 {
		return messages
	}
	if budget > 0 && totalCost(s.est, messages) <= budget {
		return messages
	}

	system, rest := splitSystem(messages)
	if len(rest) <= s.threshold {
		return s.sliding.Fit(messages, budget)
	}

	// Align the cut to a group boundary so a tool result is never separated
	// from the assistant message that issued the call.
	cut := len(rest) - s.threshold
	groups := groupMessages(rest)
	for _, g := range groups {
		if g.start >= cut {
			cut = g.start
			break
		}
		if g.end > cut {
			cut = g.end
			break
		}
	}

	older := rest[:cut]
	recent := rest[cut:]

	out := make([]llm.CompletionMessage, 0, len(system)+1+len(recent))
	out = append(out, system...)
	// A non-positive budget has no room for a synthesized summary; only the
	// mandatory system messages survive the safety net below.
	if budget > 0 {
		if summary := synthesizeSummary(older); summary != "" {
			out = append(out, llm.NewSystemMessage(summary))
		}
	}
	out = append(out, recent...)

	if totalCost(s.est, out) > budget {
		return s.sliding.Fit(out, budget)
	}
	return out
}

// synthesizeSummary condenses dropped messages: truncated user questions,
// first lines of long assistant replies, and the names of tools invoked.
func synthesizeSummary(older []llm.CompletionMessage) string {
	if len(older) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Summary of earlier conversation:\n")
	for i := range older {
		msg := &older[i]
		switch msg.Role {
		case llm.RoleUser:
			b.WriteString("- User asked: " + firstLine(msg.Content) + "\n")
		case llm.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				names := make([]string, len(msg.ToolCalls))
				for j := range msg.ToolCalls {
					names[j] = msg.ToolCalls[j].Name
				}
				b.WriteString("- Assistant invoked tools: " + strings.Join(names, ", ") + "\n")
			}
			if msg.Content != "" {
				b.WriteString("- Assistant: " + firstLine(msg.Content) + "\n")
			}
		case llm.RoleTool:
			// Tool payloads are noise at summary granularity; the invocation
			// line above already records which tools ran.
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(content string) string {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	if len(line) > maxSummaryLineChars {
		line = fmt.Sprintf("%s...", line[:maxSummaryLineChars])
	}
	return line
}
