package testkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"llmbroker/pkg/tools"
)

// VendorScript drives a mock vendor server's reply. A non-zero StatusCode
// turns the reply into a vendor error body; otherwise the server answers
// with Content and the optional tool call, as JSON or as the vendor's
// streaming format depending on what the request asked for.
type VendorScript struct {
	Content          string
	ToolCall         *tools.ToolCall
	StatusCode       int
	ErrorMessage     string
	PromptTokens     int
	CompletionTokens int
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// streamRequested reports whether the decoded request body asked for
// streaming.
func streamRequested(r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, false
	}
	stream, _ := body["stream"].(bool)
	return body, stream
}

// NewAnthropicServer emulates the Anthropic Messages API: POST /v1/messages
// with JSON and SSE replies, plus GET /v1/models/{model} for health probes.
func NewAnthropicServer(script VendorScript) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/models/") {
			writeJSON(w, map[string]any{
				"id":           strings.TrimPrefix(r.URL.Path, "/v1/models/"),
				"type":         "model",
				"display_name": "mock",
				"created_at":   "2024-01-01T00:00:00Z",
			})
			return
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/messages") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		if script.StatusCode != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(script.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":    "api_error",
					"message": script.ErrorMessage,
				},
			})
			return
		}

		body, stream := streamRequested(r)
		model, _ := body["model"].(string)
		if stream {
			anthropicSSE(w, model, &script)
			return
		}

		content := []map[string]any{}
		stopReason := "end_turn"
		if script.Content != "" {
			content = append(content, map[string]any{"type": "text", "text": script.Content})
		}
		if script.ToolCall != nil {
			var input map[string]any
			_ = json.Unmarshal([]byte(script.ToolCall.Arguments), &input)
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    script.ToolCall.ID,
				"name":  script.ToolCall.Name,
				"input": input,
			})
			stopReason = "tool_use"
		}
		writeJSON(w, map[string]any{
			"id":          "msg_mock",
			"type":        "message",
			"role":        "assistant",
			"model":       model,
			"content":     content,
			"stop_reason": stopReason,
			"usage": map[string]any{
				"input_tokens":  script.PromptTokens,
				"output_tokens": script.CompletionTokens,
			},
		})
	}))
}

func anthropicSSE(w http.ResponseWriter, model string, script *VendorScript) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	emit := func(event string, data any) {
		raw, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": "msg_mock", "type": "message", "role": "assistant",
			"model": model, "content": []any{},
			"usage": map[string]any{"input_tokens": script.PromptTokens, "output_tokens": 0},
		},
	})

	index := 0
	stopReason := "end_turn"
	if script.Content != "" {
		emit("content_block_start", map[string]any{
			"type": "content_block_start", "index": index,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		// Split the text so the client sees true incremental delivery.
		half := len(script.Content) / 2
		for _, part := range []string{script.Content[:half], script.Content[half:]} {
			if part == "" {
				continue
			}
			emit("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": index,
				"delta": map[string]any{"type": "text_delta", "text": part},
			})
		}
		emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
		index++
	}
	if script.ToolCall != nil {
		stopReason = "tool_use"
		emit("content_block_start", map[string]any{
			"type": "content_block_start", "index": index,
			"content_block": map[string]any{
				"type": "tool_use", "id": script.ToolCall.ID,
				"name": script.ToolCall.Name, "input": map[string]any{},
			},
		})
		emit("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": script.ToolCall.Arguments},
		})
		emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
	}

	emit("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": script.CompletionTokens},
	})
	emit("message_stop", map[string]any{"type": "message_stop"})
}

// NewOpenAIServer emulates the OpenAI Chat Completions API: POST
// /chat/completions with JSON and SSE replies, plus GET /models/{model}.
func NewOpenAIServer(script VendorScript) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/models/") {
			writeJSON(w, map[string]any{"id": "mock-model", "object": "model", "owned_by": "mock"})
			return
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		if script.StatusCode != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(script.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"message": script.ErrorMessage,
					"type":    "invalid_request_error",
				},
			})
			return
		}

		body, stream := streamRequested(r)
		model, _ := body["model"].(string)
		if stream {
			openaiSSE(w, model, &script)
			return
		}

		message := map[string]any{"role": "assistant", "content": script.Content}
		finish := "stop"
		if script.ToolCall != nil {
			message["tool_calls"] = []map[string]any{{
				"id":   script.ToolCall.ID,
				"type": "function",
				"function": map[string]any{
					"name":      script.ToolCall.Name,
					"arguments": script.ToolCall.Arguments,
				},
			}}
			finish = "tool_calls"
		}
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion",
			"created": 0,
			"model":   model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       message,
				"finish_reason": finish,
			}},
			"usage": map[string]any{
				"prompt_tokens":     script.PromptTokens,
				"completion_tokens": script.CompletionTokens,
				"total_tokens":      script.PromptTokens + script.CompletionTokens,
			},
		})
	}))
}

func openaiSSE(w http.ResponseWriter, model string, script *VendorScript) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	emit := func(data any) {
		raw, _ := json.Marshal(data)
		fmt.Fprintf(w, "data: %s\n\n", raw)
		if flusher != nil {
			flusher.Flush()
		}
	}
	chunk := func(delta map[string]any, finish any) map[string]any {
		return map[string]any{
			"id": "chatcmpl-mock", "object": "chat.completion.chunk",
			"created": 0, "model": model,
			"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
		}
	}

	finish := "stop"
	if script.Content != "" {
		half := len(script.Content) / 2
		emit(chunk(map[string]any{"role": "assistant", "content": script.Content[:half]}, nil))
		if script.Content[half:] != "" {
			emit(chunk(map[string]any{"content": script.Content[half:]}, nil))
		}
	}
	if script.ToolCall != nil {
		finish = "tool_calls"
		emit(chunk(map[string]any{"tool_calls": []map[string]any{{
			"index": 0, "id": script.ToolCall.ID, "type": "function",
			"function": map[string]any{"name": script.ToolCall.Name, "arguments": ""},
		}}}, nil))
		// Arguments arrive fragmented, like real deltas.
		half := len(script.ToolCall.Arguments) / 2
		for _, part := range []string{script.ToolCall.Arguments[:half], script.ToolCall.Arguments[half:]} {
			if part == "" {
				continue
			}
			emit(chunk(map[string]any{"tool_calls": []map[string]any{{
				"index":    0,
				"function": map[string]any{"arguments": part},
			}}}, nil))
		}
	}
	emit(chunk(map[string]any{}, finish))
	emit(map[string]any{
		"id": "chatcmpl-mock", "object": "chat.completion.chunk",
		"created": 0, "model": model, "choices": []any{},
		"usage": map[string]any{
			"prompt_tokens":     script.PromptTokens,
			"completion_tokens": script.CompletionTokens,
			"total_tokens":      script.PromptTokens + script.CompletionTokens,
		},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// NewOllamaServer emulates the Ollama HTTP API: POST /api/chat with JSON or
// NDJSON streaming replies, plus GET /api/tags for health probes.
func NewOllamaServer(script VendorScript) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/api/tags") {
			writeJSON(w, map[string]any{"models": []any{}})
			return
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/api/chat") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		if script.StatusCode != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(script.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": script.ErrorMessage})
			return
		}

		body, stream := streamRequested(r)
		model, _ := body["model"].(string)

		final := map[string]any{
			"model":      model,
			"created_at": "2024-01-01T00:00:00Z",
			"message":    map[string]any{"role": "assistant", "content": script.Content},
			"done":        true,
			"done_reason": "stop",
			"prompt_eval_count": script.PromptTokens,
			"eval_count":        script.CompletionTokens,
		}
		if script.ToolCall != nil {
			var args map[string]any
			_ = json.Unmarshal([]byte(script.ToolCall.Arguments), &args)
			final["message"] = map[string]any{
				"role":    "assistant",
				"content": script.Content,
				"tool_calls": []map[string]any{{
					"id":       script.ToolCall.ID,
					"function": map[string]any{"name": script.ToolCall.Name, "arguments": args},
				}},
			}
		}

		if !stream {
			writeJSON(w, final)
			return
		}

		// NDJSON: partial lines first, the final line carries done and counts.
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		if script.Content != "" {
			half := len(script.Content) / 2
			for _, part := range []string{script.Content[:half], script.Content[half:]} {
				if part == "" {
					continue
				}
				_ = enc.Encode(map[string]any{
					"model":      model,
					"created_at": "2024-01-01T00:00:00Z",
					"message":    map[string]any{"role": "assistant", "content": part},
					"done":       false,
				})
			}
			final["message"] = func() map[string]any {
				msg, _ := final["message"].(map[string]any)
				out := make(map[string]any, len(msg))
				for k, v := range msg {
					out[k] = v
				}
				out["content"] = ""
				return out
			}()
		}
		_ = enc.Encode(final)
	}))
}
