package aifetchly

import (
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// EventKind identifies one unit received from the remote agent service.
type EventKind string

const (
	EventToken             EventKind = "token"
	EventToolCall          EventKind = "tool_call"
	EventToolResult        EventKind = "tool_result"
	EventError             EventKind = "error"
	EventDone              EventKind = "done"
	EventConversationStart EventKind = "conversation_start"
	EventConversationEnd   EventKind = "conversation_end"
	EventPong              EventKind = "pong"
	EventPlanCreated       EventKind = "plan_created"
	EventPlanStepStart     EventKind = "plan_step_start"
	EventPlanStepComplete  EventKind = "plan_step_complete"
	EventPlanPause         EventKind = "plan_execute_pause"
	EventPlanResume        EventKind = "plan_execute_resume"
)

// StreamEvent is one event from the remote agent stream. The payload is
// untrusted until it passes through the decode/validation helpers.
type StreamEvent struct {
	Kind    EventKind
	Payload map[string]any
}

// ToolCallPayload is the decoded payload of a TOOL_CALL event.
type ToolCallPayload struct {
	ID     string
	Name   string
	Params map[string]any
}

// DecodeToolCall decodes a TOOL_CALL payload. A missing tool name is a
// protocol violation and yields ErrMissingToolName; a missing call ID is
// tolerated and replaced with a generated one.
func DecodeToolCall(payload map[string]any) (*ToolCallPayload, error) {
	name := payloadString(payload, "name")
	if name == "" {
		return nil, goerr.Wrap(ErrMissingToolName, "cannot dispatch tool call", goerr.V("payload", payload))
	}

	id := payloadString(payload, "id")
	if id == "" {
		id = uuid.New().String()
	}

	params, _ := payload["params"].(map[string]any)
	if params == nil {
		params, _ = payload["arguments"].(map[string]any)
	}

	return &ToolCallPayload{ID: id, Name: name, Params: params}, nil
}

// ToolResultPayload is the decoded payload of a TOOL_RESULT event arriving
// from the remote side (as opposed to locally executed tools).
type ToolResultPayload struct {
	ID      string
	Name    string
	Success bool
	Result  map[string]any
	Error   string
}

// DecodeToolResult decodes a TOOL_RESULT payload. Only the call ID is
// required; everything else degrades to zero values.
func DecodeToolResult(payload map[string]any) (*ToolResultPayload, error) {
	id := payloadString(payload, "id")
	if id == "" {
		return nil, goerr.Wrap(ErrInvalidEvent, "tool result without call id", goerr.V("payload", payload))
	}

	result, _ := payload["result"].(map[string]any)

	return &ToolResultPayload{
		ID:      id,
		Name:    payloadString(payload, "name"),
		Success: payloadBool(payload, "success", true),
		Result:  result,
		Error:   payloadString(payload, "error"),
	}, nil
}

// payloadString returns the trimmed string at key, or "" when absent or not a string.
func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

// payloadInt coerces a numeric payload field to int. JSON decoding yields
// float64 for all numbers, so both forms are accepted.
func payloadInt(payload map[string]any, key string) (int, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func payloadBool(payload map[string]any, key string, fallback bool) bool {
	if payload == nil {
		return fallback
	}
	if b, ok := payload[key].(bool); ok {
		return b
	}
	return fallback
}
