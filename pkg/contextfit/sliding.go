package contextfit

import (
	"llmbroker/pkg/llm"
	"llmbroker/pkg/tokens"
)

// SlidingWindow keeps all system messages, then walks the remaining messages
// newest-first, accumulating until the budget is exhausted. Deterministic:
// same input and budget, same output.
type SlidingWindow struct {
	est *tokens.Estimator
}

// NewSlidingWindow creates the sliding-window strategy.
func NewSlidingWindow(est *tokens.Estimator) *SlidingWindow {
	return &SlidingWindow{est: est}
}

// Name implements Fitter.
func (s *SlidingWindow) Name() string {
	return "sliding"
}

// Fit implements Fitter. The output is all system messages followed by a
// contiguous suffix of the non-system messages.
func (s *SlidingWindow) Fit(messages []llm.CompletionMessage, budget int) []llm.CompletionMessage {
	if len(messages) == 0 {
		return messages
	}
	if budget > 0 && totalCost(s.est, messages) <= budget {
		return messages
	}

	system, rest := splitSystem(messages)
	remaining := budget - totalCost(s.est, system)
	if remaining <= 0 {
		// System alone exceeds budget: return it anyway and let the provider
		// be the judge of a truly oversized request.
		return system
	}

	groups := groupMessages(rest)
	keepFrom := len(rest)
	for gi := len(groups) - 1; gi >= 0; gi-- {
		cost := groupCost(s.est, rest, groups[gi])
		if cost > remaining {
			break
		}
		remaining -= cost
		keepFrom = groups[gi].start
	}

	out := make([]llm.CompletionMessage, 0, len(system)+len(rest)-keepFrom)
	out = append(out, system...)
	out = append(out, rest[keepFrom:]...)
	return out
}
