// Package persistence provides conversation storage behind a Store interface
// with in-memory and SQLite implementations.
package persistence

import (
	"context"
	"errors"
	"time"

	"llmbroker/pkg/llm"
)

// ErrNotFound is returned when a conversation id is unknown to the store.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a stored conversation snapshot. Messages are ordered
// oldest-first; the system prompt, when present, is the first message.
type Conversation struct {
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	ID        string                  `json:"id"`
	Provider  string                  `json:"provider"`
	Messages  []llm.CompletionMessage `json:"messages"`
}

// Store persists conversations across broker restarts.
type Store interface {
	// SaveConversation writes the full conversation snapshot, replacing any
	// previous messages for the same id.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// LoadConversation returns the stored conversation or ErrNotFound.
	LoadConversation(ctx context.Context, id string) (*Conversation, error)

	// DeleteConversation removes a conversation and its messages. Deleting an
	// unknown id is not an error.
	DeleteConversation(ctx context.Context, id string) error

	// ListConversations returns all stored conversation ids, newest first.
	ListConversations(ctx context.Context) ([]string, error)

	// Close releases store resources.
	Close() error
}
