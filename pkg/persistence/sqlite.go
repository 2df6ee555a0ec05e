package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"llmbroker/pkg/llm"
	"llmbroker/pkg/logx"
	"llmbroker/pkg/tools"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, seq);
`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Debug("database initialized: %s", dbPath)

	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveConversation writes the full conversation snapshot, replacing any
// previous messages for the same id.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	created := conv.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Provider, created, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", conv.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages for %s: %w", conv.ID, err)
	}

	for seq := range conv.Messages {
		msg := &conv.Messages[seq]
		toolCalls := ""
		if len(msg.ToolCalls) > 0 {
			encoded, jsonErr := json.Marshal(msg.ToolCalls)
			if jsonErr != nil {
				return fmt.Errorf("failed to encode tool calls: %w", jsonErr)
			}
			toolCalls = string(encoded)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, seq, role, content, name, tool_call_id, tool_calls)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, seq, string(msg.Role), msg.Content, msg.Name, msg.ToolCallID, toolCalls,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %d for %s: %w", seq, conv.ID, err)
		}
	}

	return tx.Commit()
}

// LoadConversation returns the stored conversation or ErrNotFound.
func (s *SQLiteStore) LoadConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.Provider, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, name, tool_call_id, tool_calls
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", id, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var role, content, name, toolCallID, toolCalls string
		if err := rows.Scan(&role, &content, &name, &toolCallID, &toolCalls); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg := llm.CompletionMessage{
			Role:       llm.CompletionRole(role),
			Content:    content,
			Name:       name,
			ToolCallID: toolCallID,
		}
		if toolCalls != "" {
			var calls []tools.ToolCall
			if err := json.Unmarshal([]byte(toolCalls), &calls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
			msg.ToolCalls = calls
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// ListConversations returns all conversation ids, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
