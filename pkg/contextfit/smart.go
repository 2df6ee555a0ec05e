package contextfit

import (
	"sort"
	"strings"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tokens"
)

// Importance scoring weights. Relative magnitudes matter, absolute values
// are tunable.
const (
	scoreRecencyMax   = 10.0 // newest message, linear down to 0 for oldest
	scoreToolBonus    = 5.0  // message carries tool calls or is a tool result
	scoreSignalBonus  = 2.0  // code fences or question marks
	scoreLengthMax    = 3.0  // capped contribution from message size
	scoreLengthDiv    = 500.0
)

// SmartTruncate scores every message by importance and greedily keeps the
// highest-scoring ones until the budget is exhausted, then restores original
// chronological order for the kept subset. System messages are always kept.
type SmartTruncate struct {
	est *tokens.Estimator
}

// NewSmartTruncate creates the smart-truncation strategy.
func NewSmartTruncate(est *tokens.Estimator) *SmartTruncate {
	return &SmartTruncate{est: est}
}

// Name implements Fitter.
func (s *SmartTruncate) Name() string {
	return "smart"
}

// Fit implements Fitter.
func (s *SmartTruncate) Fit(messages []llm.CompletionMessage, budget int) []llm.CompletionMessage {
	if len(messages) == 0 {
		return messages
	}
	if budget > 0 && totalCost(s.est, messages) <= budget {
		return messages
	}

	system, rest := splitSystem(messages)
	remaining := budget - totalCost(s.est, system)
	if remaining <= 0 {
		return system
	}

	// Score and select whole groups so assistant/tool pairs survive together.
	groups := groupMessages(rest)
	type scored struct {
		g     group
		score float64
		cost  int
	}
	candidates := make([]scored, len(groups))
	for i, g := range groups {
		candidates[i] = scored{
			g:     g,
			score: s.scoreGroup(rest, g, len(rest)),
			cost:  groupCost(s.est, rest, g),
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	kept := make([]bool, len(rest))
	for _, c := range candidates {
		if c.cost > remaining {
			continue
		}
		remaining -= c.cost
		for i := c.g.start; i < c.g.end; i++ {
			kept[i] = true
		}
	}

	out := make([]llm.CompletionMessage, 0, len(system)+len(rest))
	out = append(out, system...)
	for i := range rest {
		if kept[i] {
			out = append(out, rest[i])
		}
	}
	return out
}

// scoreGroup takes the maximum member score so a high-value message carries
// its tool results with it.
func (s *SmartTruncate) scoreGroup(rest []llm.CompletionMessage, g group, total int) float64 {
	best := 0.0
	for i := g.start; i < g.end; i++ {
		if score := scoreMessage(&rest[i], i, total); score > best {
			best = score
		}
	}
	return best
}

func scoreMessage(msg *llm.CompletionMessage, position, total int) float64 {
	score := 0.0

	// Recency: linear in position.
	if total > 1 {
		score += scoreRecencyMax * float64(position) / float64(total-1)
	} else {
		score += scoreRecencyMax
	}

	if len(msg.ToolCalls) > 0 || msg.Role == llm.RoleTool {
		score += scoreToolBonus
	}

	if length := float64(len(msg.Content)) / scoreLengthDiv; length > scoreLengthMax {
		score += scoreLengthMax
	} else {
		score += length
	}

	if strings.Contains(msg.Content, "```") || strings.Contains(msg.Content, "?") {
		score += scoreSignalBonus
	}

	return score
}
