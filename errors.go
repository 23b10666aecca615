package aifetchly

import "errors"

var (
	// ErrMissingToolName indicates a TOOL_CALL event without a tool name. This is
	// a transport protocol bug, not a tool failure: callers must detect it with
	// errors.Is and keep it off user-facing error surfaces.
	ErrMissingToolName = errors.New("tool call event is missing tool name")

	ErrUnknownTool      = errors.New("unknown tool")
	ErrToolNameConflict = errors.New("tool name conflict")
	ErrInvalidToolArgs  = errors.New("invalid tool arguments")
	ErrInvalidEvent     = errors.New("invalid event payload")
	ErrPollTimeout      = errors.New("task polling exceeded time limit")
	ErrTaskFailed       = errors.New("remote task reported failure")
	ErrNoPlan           = errors.New("no active plan")
	ErrStepNotFound     = errors.New("plan step not found")
)
