package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
)

type mockClient struct {
	err  error
	resp llm.CompletionResponse
}

func (m *mockClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	if m.err != nil {
		return llm.CompletionResponse{}, m.err
	}
	return m.resp, nil
}

func (m *mockClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Content: m.resp.Content, Done: true}
	close(ch)
	return ch, nil
}

func (m *mockClient) CountTokens(_ []llm.CompletionMessage) int { return 0 }
func (m *mockClient) Capabilities() llm.Capabilities            { return llm.Capabilities{} }
func (m *mockClient) HealthCheck(_ context.Context) error       { return nil }
func (m *mockClient) ProviderName() string                      { return "mock" }
func (m *mockClient) ModelName() string                         { return "mock-model" }

func TestPrometheusRecorderCountsSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorderWith(reg)

	mock := &mockClient{
		resp: llm.CompletionResponse{
			Content: "hi",
			Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 34, TotalTokens: 46},
		},
	}
	client := Middleware(recorder, nil)(mock)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	requests := testutil.ToFloat64(
		recorder.requestsTotal.WithLabelValues("mock", "mock-model", "success", ""))
	assert.Equal(t, 1.0, requests)

	prompt := testutil.ToFloat64(
		recorder.tokensTotal.WithLabelValues("mock", "mock-model", "prompt"))
	completion := testutil.ToFloat64(
		recorder.tokensTotal.WithLabelValues("mock", "mock-model", "completion"))
	assert.Equal(t, 12.0, prompt)
	assert.Equal(t, 34.0, completion)
}

func TestPrometheusRecorderCountsErrorType(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorderWith(reg)

	mock := &mockClient{err: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")}
	client := Middleware(recorder, nil)(mock)

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)

	errored := testutil.ToFloat64(
		recorder.requestsTotal.WithLabelValues("mock", "mock-model", "error", "rate_limit"))
	assert.Equal(t, 1.0, errored)

	// No token counters on failure.
	prompt := testutil.ToFloat64(
		recorder.tokensTotal.WithLabelValues("mock", "mock-model", "prompt"))
	assert.Equal(t, 0.0, prompt)
}

func TestPrometheusRecorderExposesExpectedMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorderWith(reg)

	recorder.ObserveRequest("mock", "mock-model", 5, 7, true, "", 20*time.Millisecond)

	expected := `
# HELP llm_tokens_total Total number of tokens used in LLM requests
# TYPE llm_tokens_total counter
llm_tokens_total{model="mock-model",provider="mock",type="completion"} 7
llm_tokens_total{model="mock-model",provider="mock",type="prompt"} 5
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "llm_tokens_total")
	require.NoError(t, err)
}

func TestMiddlewarePassesStreamThrough(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusRecorderWith(reg)

	mock := &mockClient{resp: llm.CompletionResponse{Content: "chunked"}}
	client := Middleware(recorder, nil)(mock)

	ch, err := client.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	chunk := <-ch
	assert.Equal(t, "chunked", chunk.Content)

	established := testutil.ToFloat64(
		recorder.requestsTotal.WithLabelValues("mock", "mock-model", "success", ""))
	assert.Equal(t, 1.0, established)
}

func TestNoopRecorderIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().ObserveRequest("p", "m", 1, 2, true, "", time.Millisecond)
	})
}
