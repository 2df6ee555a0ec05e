package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/persistence"
)

// ErrConversationNotFound is returned for operations on unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// conversation returns the working copy for an id, loading it from the store
// or creating it on first use. The system prompt is stored as the first
// history message at creation time only.
func (b *Broker) conversation(ctx context.Context, id, systemPrompt string) (*persistence.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conv, ok := b.conversations[id]; ok {
		return conv, nil
	}

	conv, err := b.store.LoadConversation(ctx, id)
	if err == nil {
		b.conversations[id] = conv
		return conv, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	conv = &persistence.Conversation{
		ID:        id,
		Provider:  b.active,
		CreatedAt: time.Now().UTC(),
	}
	if systemPrompt != "" {
		conv.Messages = append(conv.Messages, llm.NewSystemMessage(systemPrompt))
	}
	b.conversations[id] = conv
	return conv, nil
}

// lookup returns the in-memory conversation without creating one.
func (b *Broker) lookup(id string) (*persistence.Conversation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[id]
	return conv, ok
}

// commit appends messages to the conversation and persists the snapshot.
// Nothing is committed when the turn failed; the caller only reaches this
// after a successful completion.
func (b *Broker) commit(ctx context.Context, conv *persistence.Conversation, messages ...llm.CompletionMessage) error {
	b.mu.Lock()
	conv.Messages = append(conv.Messages, messages...)
	b.mu.Unlock()

	if err := b.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("failed to persist conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation returns a copy of the stored message history.
func (b *Broker) GetConversation(id string) ([]llm.CompletionMessage, error) {
	conv, ok := b.lookup(id)
	if !ok {
		return nil, ErrConversationNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]llm.CompletionMessage(nil), conv.Messages...), nil
}

// ClearConversation removes a conversation from memory and the store.
// Clearing an unknown id is not an error.
func (b *Broker) ClearConversation(ctx context.Context, id string) error {
	b.mu.Lock()
	delete(b.conversations, id)
	b.mu.Unlock()

	return b.store.DeleteConversation(ctx, id)
}

// snapshot returns a copy of the conversation's messages for request
// preparation, so in-flight work never aliases committed history.
func (b *Broker) snapshot(conv *persistence.Conversation) []llm.CompletionMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]llm.CompletionMessage(nil), conv.Messages...)
}
