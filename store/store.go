// Package store persists conversation artifacts to SQLite. It is the shipped
// implementation of the orchestrator's best-effort persistence collaborator.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	aifetchly "github.com/robertzengcn/aiFetchly-sub000"
)

// Store is a SQLite-backed persistence collaborator.
type Store struct {
	db *sql.DB
}

var _ aifetchly.Store = (*Store)(nil)

// New opens (or creates) the conversation database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dataDir))
	}

	dbPath := filepath.Join(dataDir, "conversations.db")
	// WAL and a busy timeout keep concurrent fire-and-forget writes from
	// tripping over each other.
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", dbPath))
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to migrate database")
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		params TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id);

	CREATE TABLE IF NOT EXISTS tool_results (
		call_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		success INTEGER NOT NULL,
		result TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_results_conversation ON tool_results(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage stores one assistant message.
func (s *Store) SaveMessage(ctx context.Context, msg aifetchly.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, conversation_id, content, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to save message", goerr.V("message_id", msg.ID))
	}
	return nil
}

// SaveToolCall stores one tool invocation request.
func (s *Store) SaveToolCall(ctx context.Context, call aifetchly.ToolCallRecord) error {
	params, err := marshalJSON(call.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_calls (id, message_id, conversation_id, name, params, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID, call.MessageID, call.ConversationID, call.Name, params, call.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to save tool call", goerr.V("call_id", call.ID))
	}
	return nil
}

// SaveToolResult stores one tool outcome.
func (s *Store) SaveToolResult(ctx context.Context, result aifetchly.ToolResultRecord) error {
	data, err := marshalJSON(result.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_results (call_id, conversation_id, name, success, result, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.CallID, result.ConversationID, result.Name, boolInt(result.Success), data, result.Error, result.DurationMS, result.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to save tool result", goerr.V("call_id", result.CallID))
	}
	return nil
}

// Messages returns the persisted messages of a conversation in insertion order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]aifetchly.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, content, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query messages", goerr.V("conversation_id", conversationID))
	}
	defer func() { _ = rows.Close() }()

	var out []aifetchly.Message
	for rows.Next() {
		var msg aifetchly.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan message row")
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal record field")
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
