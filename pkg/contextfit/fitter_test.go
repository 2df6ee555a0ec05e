package contextfit

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbroker/pkg/config"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/tokens"
	"llmbroker/pkg/tools"
)

func testEstimator() *tokens.Estimator {
	// Divisor-based family keeps the arithmetic predictable: 4 chars = 1 token.
	return tokens.NewEstimator(config.TokenizerClaude)
}

func allFitters(t *testing.T) []Fitter {
	t.Helper()
	est := testEstimator()
	return []Fitter{
		NewSlidingWindow(est),
		NewSummarize(est, DefaultSummarizeThreshold),
		NewSmartTruncate(est),
	}
}

// chatHistory builds an alternating user/assistant history with padded bodies.
func chatHistory(n int) []llm.CompletionMessage {
	msgs := make([]llm.CompletionMessage, 0, n+1)
	msgs = append(msgs, llm.NewSystemMessage("You are a helpful assistant."))
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("message %d %s", i, strings.Repeat("pad ", 30))
		if i%2 == 0 {
			msgs = append(msgs, llm.NewUserMessage(body))
		} else {
			msgs = append(msgs, llm.NewAssistantMessage(body))
		}
	}
	return msgs
}

func TestBudget(t *testing.T) {
	caps := llm.Capabilities{ContextWindowTokens: 100000, MaxOutputTokens: 8192}
	assert.Equal(t, 100000*90/100-8192, Budget(caps))

	// Output reservation bigger than the window floors at zero.
	tiny := llm.Capabilities{ContextWindowTokens: 4000, MaxOutputTokens: 8192}
	assert.Equal(t, 0, Budget(tiny))
}

func TestForStrategy(t *testing.T) {
	est := testEstimator()
	for _, name := range []string{config.StrategySliding, config.StrategySummarize, config.StrategySmart} {
		f, err := ForStrategy(name, est)
		require.NoError(t, err)
		require.NotNil(t, f)
	}
	_, err := ForStrategy("creative", est)
	assert.Error(t, err)
}

func TestWithinBudgetReturnsInputUnchanged(t *testing.T) {
	msgs := chatHistory(6)
	for _, f := range allFitters(t) {
		out := f.Fit(msgs, 1_000_000)
		assert.Equal(t, msgs, out, f.Name())
	}
}

func TestSystemMessagesAlwaysPreserved(t *testing.T) {
	msgs := chatHistory(30)
	for _, f := range allFitters(t) {
		out := f.Fit(msgs, 300)
		found := false
		for _, m := range out {
			if m.Role == llm.RoleSystem && m.Content == "You are a helpful assistant." {
				found = true
			}
		}
		assert.True(t, found, f.Name())
	}
}

func TestZeroBudgetYieldsSystemOnly(t *testing.T) {
	msgs := chatHistory(10)
	for _, f := range allFitters(t) {
		for _, budget := range []int{0, -5} {
			out := f.Fit(msgs, budget)
			for _, m := range out {
				assert.Equal(t, llm.RoleSystem, m.Role, f.Name())
			}
			assert.NotEmpty(t, out, f.Name())
		}
	}
}

func TestZeroBudgetSuppressesSynthesizedSummary(t *testing.T) {
	// Enough history to cross the summarize threshold; at zero budget the
	// synthesized summary must not ride along with the stored system prefix.
	msgs := chatHistory(30)
	f := NewSummarize(testEstimator(), DefaultSummarizeThreshold)
	for _, budget := range []int{0, -5} {
		out := f.Fit(msgs, budget)
		require.Len(t, out, 1)
		assert.Equal(t, llm.RoleSystem, out[0].Role)
		assert.Equal(t, "You are a helpful assistant.", out[0].Content)
	}
}

func TestSystemOverBudgetStillReturned(t *testing.T) {
	msgs := []llm.CompletionMessage{
		llm.NewSystemMessage(strings.Repeat("rule ", 500)),
		llm.NewUserMessage("hi"),
	}
	for _, f := range allFitters(t) {
		out := f.Fit(msgs, 10)
		require.Len(t, out, 1, f.Name())
		assert.Equal(t, llm.RoleSystem, out[0].Role, f.Name())
	}
}

func TestSlidingOutputIsContiguousSuffix(t *testing.T) {
	msgs := chatHistory(20)
	_, rest := splitSystem(msgs)

	out := NewSlidingWindow(testEstimator()).Fit(msgs, 500)
	require.NotEmpty(t, out)

	var outRest []llm.CompletionMessage
	for _, m := range out {
		if m.Role != llm.RoleSystem {
			outRest = append(outRest, m)
		}
	}
	require.NotEmpty(t, outRest)
	assert.Equal(t, rest[len(rest)-len(outRest):], outRest)
}

func TestSlidingDeterministic(t *testing.T) {
	msgs := chatHistory(20)
	f := NewSlidingWindow(testEstimator())
	assert.Equal(t, f.Fit(msgs, 500), f.Fit(msgs, 500))
}

func TestSmartPreservesChronologicalOrder(t *testing.T) {
	msgs := chatHistory(20)
	out := NewSmartTruncate(testEstimator()).Fit(msgs, 500)

	// Every kept message must appear in the same relative order as the input.
	lastIdx := -1
	for _, m := range out {
		if m.Role == llm.RoleSystem {
			continue
		}
		idx := -1
		for i := range msgs {
			if i > lastIdx && msgs[i].Role == m.Role && msgs[i].Content == m.Content {
				idx = i
				break
			}
		}
		require.GreaterOrEqual(t, idx, 0, "kept message out of order")
		lastIdx = idx
	}
}

func TestSummarizeCollapsesOldHistory(t *testing.T) {
	msgs := chatHistory(24)
	out := NewSummarize(testEstimator(), 10).Fit(msgs, 800)

	// A synthesized summary system message should be present.
	foundSummary := false
	for _, m := range out {
		if m.Role == llm.RoleSystem && strings.Contains(m.Content, "Summary of earlier conversation") {
			foundSummary = true
		}
	}
	assert.True(t, foundSummary)
	assert.Less(t, len(out), len(msgs))
}

func TestSummarizeMentionsToolUsage(t *testing.T) {
	summary := synthesizeSummary([]llm.CompletionMessage{
		llm.NewUserMessage("What's the weather in Paris?"),
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []tools.ToolCall{{ID: "1", Name: "get_weather", Arguments: `{"city":"Paris"}`}},
		},
		llm.NewToolResultMessage("1", "get_weather", "22C, sunny"),
	})
	assert.Contains(t, summary, "User asked: What's the weather in Paris?")
	assert.Contains(t, summary, "get_weather")
}

func TestToolPairingNeverSplit(t *testing.T) {
	msgs := []llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage(strings.Repeat("old question ", 40)),
		llm.NewAssistantMessage(strings.Repeat("old answer ", 40)),
		llm.NewUserMessage("check the weather"),
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []tools.ToolCall{{ID: "call-1", Name: "get_weather", Arguments: `{"city":"Oslo"}`}},
		},
		llm.NewToolResultMessage("call-1", "get_weather", strings.Repeat("result ", 20)),
		llm.NewAssistantMessage("It is cold."),
	}

	for _, f := range allFitters(t) {
		for _, budget := range []int{40, 60, 80, 120, 200} {
			out := f.Fit(msgs, budget)
			for i, m := range out {
				if m.Role != llm.RoleTool {
					continue
				}
				// The issuing assistant message must be the previous entry.
				require.Greater(t, i, 0, f.Name())
				prev := out[i-1]
				issuer := prev.Role == llm.RoleAssistant && len(prev.ToolCalls) > 0
				sibling := prev.Role == llm.RoleTool
				assert.True(t, issuer || sibling,
					"%s budget %d: tool result split from its assistant", f.Name(), budget)
			}
		}
	}
}
