// Package contextfit reduces message sequences to fit a token budget. Three
// interchangeable strategies share one Fitter interface; all of them keep
// system messages and never separate a tool result from the assistant
// message that issued the call.
package contextfit

import (
	"fmt"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/tokens"
)

// Fitter trims a message sequence to estimate at or under budget. A budget
// of zero or less yields system messages only. If the input already fits,
// every strategy returns it unchanged.
type Fitter interface {
	Name() string
	Fit(messages []llm.CompletionMessage, budget int) []llm.CompletionMessage
}

// budgetHeadroomPct is the share of the context window offered to the fitter;
// the rest is headroom for the response and estimation error.
const budgetHeadroomPct = 90

// Budget derives the fitter budget from a provider's capability row:
// 90% of the context window minus the response reservation, floored at zero.
func Budget(caps llm.Capabilities) int {
	budget := caps.ContextWindowTokens*budgetHeadroomPct/100 - caps.MaxOutputTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// ForStrategy builds the named strategy (config.StrategySliding etc) around
// a token estimator.
func ForStrategy(name string, est *tokens.Estimator) (Fitter, error) {
	switch name {
	case config.StrategySliding:
		return NewSlidingWindow(est), nil
	case config.StrategySummarize:
		return NewSummarize(est, DefaultSummarizeThreshold), nil
	case config.StrategySmart:
		return NewSmartTruncate(est), nil
	default:
		return nil, fmt.Errorf("unknown context strategy %q", name)
	}
}

// messageCost estimates one message's token footprint including tool-call
// arguments carried on assistant messages.
func messageCost(est *tokens.Estimator, msg *llm.CompletionMessage) int {
	cost := est.CountWithOverhead(msg.Content)
	for i := range msg.ToolCalls {
		cost += est.Count(msg.ToolCalls[i].Name) + est.Count(msg.ToolCalls[i].Arguments)
	}
	return cost
}

func totalCost(est *tokens.Estimator, messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += messageCost(est, &messages[i])
	}
	return total
}

// splitSystem partitions messages into system messages and the rest,
// both in original order.
func splitSystem(messages []llm.CompletionMessage) (system, rest []llm.CompletionMessage) {
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			system = append(system, messages[i])
		} else {
			rest = append(rest, messages[i])
		}
	}
	return system, rest
}

// group is a run of messages that must be kept or dropped together: an
// assistant message that issued tool calls plus the tool results answering
// it, or a single message otherwise.
type group struct {
	start int // index into the non-system slice
	end   int // exclusive
}

// groupMessages segments non-system messages into atomic groups. Tool-role
// messages attach to the nearest preceding assistant message with tool calls.
func groupMessages(rest []llm.CompletionMessage) []group {
	var groups []group
	i := 0
	for i < len(rest) {
		j := i + 1
		if rest[i].Role == llm.RoleAssistant && len(rest[i].ToolCalls) > 0 {
			for j < len(rest) && rest[j].Role == llm.RoleTool {
				j++
			}
		}
		groups = append(groups, group{start: i, end: j})
		i = j
	}
	return groups
}

func groupCost(est *tokens.Estimator, rest []llm.CompletionMessage, g group) int {
	total := 0
	for i := g.start; i < g.end; i++ {
		total += messageCost(est, &rest[i])
	}
	return total
}
