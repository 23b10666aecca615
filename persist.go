package aifetchly

import (
	"context"
	"time"
)

// Message is the persisted assistant message of one turn.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	CreatedAt      time.Time
}

// ToolCallRecord is a persisted tool invocation request.
type ToolCallRecord struct {
	ID             string
	MessageID      string
	ConversationID string
	Name           string
	Params         map[string]any
	CreatedAt      time.Time
}

// ToolResultRecord is a persisted tool outcome.
type ToolResultRecord struct {
	CallID         string
	ConversationID string
	Name           string
	Success        bool
	Result         map[string]any
	Error          string
	DurationMS     int64
	CreatedAt      time.Time
}

// Store is the persistence collaborator. Every call is best-effort: the
// processor logs failures and never lets them abort or delay a turn.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	SaveToolCall(ctx context.Context, call ToolCallRecord) error
	SaveToolResult(ctx context.Context, result ToolResultRecord) error
}
