package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbroker/pkg/llm"
	"llmbroker/pkg/tools"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqliteStore.Close()
	})

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func sampleConversation(id string) *Conversation {
	return &Conversation{
		ID:       id,
		Provider: "anthropic",
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage("You are helpful."),
			llm.NewUserMessage("What is the weather in Paris?"),
			{
				Role: llm.RoleAssistant,
				ToolCalls: []tools.ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
				},
			},
			llm.NewToolResultMessage("call_1", "get_weather", `{"temp_c":18}`),
			llm.NewAssistantMessage("It is 18C in Paris."),
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := sampleConversation("c-1")
			require.NoError(t, store.SaveConversation(ctx, conv))

			loaded, err := store.LoadConversation(ctx, "c-1")
			require.NoError(t, err)
			assert.Equal(t, "anthropic", loaded.Provider)
			require.Len(t, loaded.Messages, 5)

			assert.Equal(t, llm.RoleSystem, loaded.Messages[0].Role)

			// Tool call survives with id, name, and raw arguments intact.
			require.Len(t, loaded.Messages[2].ToolCalls, 1)
			assert.Equal(t, "call_1", loaded.Messages[2].ToolCalls[0].ID)
			assert.Equal(t, `{"city":"Paris"}`, loaded.Messages[2].ToolCalls[0].Arguments)

			// Tool result keeps its linkage.
			assert.Equal(t, "call_1", loaded.Messages[3].ToolCallID)
			assert.Equal(t, "get_weather", loaded.Messages[3].Name)
		})
	}
}

func TestSaveReplacesMessages(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := sampleConversation("c-2")
			require.NoError(t, store.SaveConversation(ctx, conv))

			conv.Messages = conv.Messages[:2]
			require.NoError(t, store.SaveConversation(ctx, conv))

			loaded, err := store.LoadConversation(ctx, "c-2")
			require.NoError(t, err)
			assert.Len(t, loaded.Messages, 2)
		})
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.LoadConversation(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeleteConversation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveConversation(ctx, sampleConversation("c-3")))
			require.NoError(t, store.DeleteConversation(ctx, "c-3"))

			_, err := store.LoadConversation(ctx, "c-3")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting again is not an error.
			assert.NoError(t, store.DeleteConversation(ctx, "c-3"))
		})
	}
}

func TestListConversations(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveConversation(ctx, sampleConversation("c-a")))
			require.NoError(t, store.SaveConversation(ctx, sampleConversation("c-b")))

			ids, err := store.ListConversations(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c-a", "c-b"}, ids)
		})
	}
}
