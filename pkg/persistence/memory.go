package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"llmbroker/pkg/llm"
)

// MemoryStore is a Store backed by a map. Used by default when no database
// path is configured, and by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

// SaveConversation writes the full conversation snapshot.
func (s *MemoryStore) SaveConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *conv
	stored.Messages = append([]llm.CompletionMessage(nil), conv.Messages...)
	if existing, ok := s.conversations[conv.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = time.Now().UTC()
	s.conversations[conv.ID] = &stored
	return nil
}

// LoadConversation returns a copy of the stored conversation.
func (s *MemoryStore) LoadConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	out.Messages = append([]llm.CompletionMessage(nil), conv.Messages...)
	return &out, nil
}

// DeleteConversation removes a conversation.
func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// ListConversations returns all conversation ids, newest first.
func (s *MemoryStore) ListConversations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.conversations[ids[i]].UpdatedAt.After(s.conversations[ids[j]].UpdatedAt)
	})
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
