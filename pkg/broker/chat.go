package broker

import (
	"context"
	"errors"
	"strings"

	"llmbroker/pkg/contextfit"
	"llmbroker/pkg/llm"
	"llmbroker/pkg/llmerrors"
	"llmbroker/pkg/persistence"
	"llmbroker/pkg/tools"
)

// Chat runs one completion turn: compose the request from history plus the
// new user message, fit it to the active model's budget, complete with
// call-scoped fallback, and commit the exchange to history on success.
func (b *Broker) Chat(ctx context.Context, turn Turn) (llm.CompletionResponse, error) {
	if err := turn.validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid turn")
	}

	conv, err := b.conversation(ctx, turn.ConversationID, turn.SystemPrompt)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	userMsg := llm.NewUserMessage(turn.UserMessage)
	prepared := b.prepareMessages(conv, &turn, userMsg)

	resp, err := b.completeWithFallback(ctx, prepared, &turn)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	assistant := llm.CompletionMessage{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
	if err := b.commit(ctx, conv, userMsg, assistant); err != nil {
		return llm.CompletionResponse{}, err
	}
	return resp, nil
}

// StreamChat runs one streaming turn. The caller observes raw chunks as they
// arrive; once the stream ends the accumulated assistant message is committed
// to history. Fallback applies to stream establishment only.
func (b *Broker) StreamChat(ctx context.Context, turn Turn) (<-chan llm.StreamChunk, error) {
	if err := turn.validate(); err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid turn")
	}

	conv, err := b.conversation(ctx, turn.ConversationID, turn.SystemPrompt)
	if err != nil {
		return nil, err
	}

	userMsg := llm.NewUserMessage(turn.UserMessage)
	prepared := b.prepareMessages(conv, &turn, userMsg)

	upstream, react, err := b.streamWithFallback(ctx, prepared, &turn)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk, 32)
	go func() {
		defer close(out)

		var content strings.Builder
		// Tool-call fragments keyed by stream index, reassembled whole.
		type aggCall struct {
			id   string
			name string
			args strings.Builder
		}
		agg := make(map[int]*aggCall)
		var order []int
		failed := false

		for chunk := range upstream {
			if chunk.Error != nil {
				failed = true
			}
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
			}
			if chunk.ToolCall != nil {
				ac, ok := agg[chunk.ToolCall.Index]
				if !ok {
					ac = &aggCall{}
					agg[chunk.ToolCall.Index] = ac
					order = append(order, chunk.ToolCall.Index)
				}
				if chunk.ToolCall.ID != "" {
					ac.id = chunk.ToolCall.ID
				}
				if chunk.ToolCall.Name != "" {
					ac.name = chunk.ToolCall.Name
				}
				ac.args.WriteString(chunk.ToolCall.ArgumentsFragment)
			}
			out <- chunk
		}

		// History stays untouched when the stream failed mid-flight.
		if failed {
			return
		}

		assistant := llm.CompletionMessage{
			Role:    llm.RoleAssistant,
			Content: content.String(),
		}
		for _, idx := range order {
			ac := agg[idx]
			assistant.ToolCalls = append(assistant.ToolCalls, tools.ToolCall{
				ID:        ac.id,
				Name:      ac.name,
				Arguments: ac.args.String(),
			})
		}
		if react {
			if calls := parseReActCalls(assistant.Content); len(calls) > 0 {
				assistant.ToolCalls = calls
			}
		}

		if err := b.commit(ctx, conv, userMsg, assistant); err != nil {
			b.logger.Error("failed to commit streamed turn for %s: %v", conv.ID, err)
		}
	}()

	return out, nil
}

// prepareMessages composes the request messages: stored history with the
// call-scoped snippet block spliced in after the system prefix, then the new
// user message. Snippets shape the request but are never committed.
func (b *Broker) prepareMessages(conv *persistence.Conversation, turn *Turn, userMsg llm.CompletionMessage) []llm.CompletionMessage {
	history := b.snapshot(conv)

	prepared := make([]llm.CompletionMessage, 0, len(history)+2)
	if snippets, ok := turn.snippetMessage(); ok {
		systemEnd := 0
		for systemEnd < len(history) && history[systemEnd].Role == llm.RoleSystem {
			systemEnd++
		}
		prepared = append(prepared, history[:systemEnd]...)
		prepared = append(prepared, snippets)
		prepared = append(prepared, history[systemEnd:]...)
	} else {
		prepared = append(prepared, history...)
	}
	return append(prepared, userMsg)
}

// buildRequest fits the prepared messages to the client's budget and attaches
// registered tools. Models without native tool support get the prompt-driven
// protocol instead; the second return reports whether that was used.
func (b *Broker) buildRequest(client llm.Client, fitter contextfit.Fitter, prepared []llm.CompletionMessage, turn *Turn) (llm.CompletionRequest, bool) {
	caps := client.Capabilities()
	fitted := fitter.Fit(prepared, contextfit.Budget(caps))

	req := llm.NewCompletionRequest(fitted)
	if turn.MaxTokens > 0 {
		req.MaxTokens = turn.MaxTokens
	}
	if turn.Temperature > 0 {
		req.Temperature = turn.Temperature
	}
	if turn.TopP > 0 {
		req.TopP = turn.TopP
	}

	defs := b.registry.Definitions()
	if len(defs) == 0 {
		return req, false
	}
	if caps.SupportsTools {
		req.Tools = defs
		return req, false
	}

	// Prompt-driven tool use for models without native function calling.
	req.Messages = injectReActPrompt(req.Messages, defs)
	return req, true
}

// completeWithFallback tries the active provider, then each untried fallback
// candidate after a health check. A fallback activation is call-scoped; the
// active provider is unchanged for later calls. The original error is
// returned when everything fails.
func (b *Broker) completeWithFallback(ctx context.Context, prepared []llm.CompletionMessage, turn *Turn) (llm.CompletionResponse, error) {
	active := b.ActiveProvider()
	candidates := append([]string{active}, b.cfg.FallbackProviders...)
	tried := make(map[string]bool, len(candidates))
	var firstErr error

	for _, name := range candidates {
		if tried[name] {
			continue
		}
		tried[name] = true
		client, ok := b.clients[name]
		if !ok {
			continue
		}
		if !meetsCapabilities(client.Capabilities(), turn.RequiredCapabilities) {
			b.logger.Debug("provider %s lacks required capabilities, skipping", name)
			continue
		}

		if name != active {
			probeCtx, cancel := context.WithTimeout(ctx, b.cfg.HealthCheckTimeout())
			err := client.HealthCheck(probeCtx)
			cancel()
			if err != nil {
				b.logger.Warn("fallback candidate %s failed health check: %v", name, err)
				continue
			}
			b.logger.Info("falling back to provider %s", name)
		}

		req, react := b.buildRequest(client, b.fitters[name], prepared, turn)
		resp, err := client.Complete(ctx, req)
		if err == nil {
			if react {
				if calls := parseReActCalls(resp.Content); len(calls) > 0 {
					resp.ToolCalls = calls
					resp.StopReason = "tool_use"
				}
			}
			return resp, nil
		}

		if firstErr == nil {
			firstErr = err
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
		if llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt) {
			b.logger.Debug("rejected prompt: %s", llmerrors.SanitizePrompt(turn.UserMessage, 256))
		}
		b.logger.Warn("provider %s failed: %v", name, err)
	}

	if firstErr == nil {
		firstErr = llmerrors.NewError(llmerrors.ErrorTypeUnavailable, "no configured provider can serve this request")
	}
	return llm.CompletionResponse{}, firstErr
}

// streamWithFallback establishes a stream with the same candidate walk as
// completeWithFallback. The bool reports whether the prompt-driven tool
// protocol is in play for the chosen provider.
func (b *Broker) streamWithFallback(ctx context.Context, prepared []llm.CompletionMessage, turn *Turn) (<-chan llm.StreamChunk, bool, error) {
	active := b.ActiveProvider()
	candidates := append([]string{active}, b.cfg.FallbackProviders...)
	tried := make(map[string]bool, len(candidates))
	var firstErr error

	for _, name := range candidates {
		if tried[name] {
			continue
		}
		tried[name] = true
		client, ok := b.clients[name]
		if !ok {
			continue
		}
		if !meetsCapabilities(client.Capabilities(), turn.RequiredCapabilities) {
			b.logger.Debug("provider %s lacks required capabilities, skipping", name)
			continue
		}

		if name != active {
			probeCtx, cancel := context.WithTimeout(ctx, b.cfg.HealthCheckTimeout())
			err := client.HealthCheck(probeCtx)
			cancel()
			if err != nil {
				b.logger.Warn("fallback candidate %s failed health check: %v", name, err)
				continue
			}
			b.logger.Info("falling back to provider %s", name)
		}

		req, react := b.buildRequest(client, b.fitters[name], prepared, turn)
		ch, err := client.Stream(ctx, req)
		if err == nil {
			return ch, react, nil
		}

		if firstErr == nil {
			firstErr = err
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
		b.logger.Warn("provider %s failed to establish stream: %v", name, err)
	}

	if firstErr == nil {
		firstErr = llmerrors.NewError(llmerrors.ErrorTypeUnavailable, "no configured provider can serve this request")
	}
	return nil, false, firstErr
}
