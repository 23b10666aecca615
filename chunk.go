package aifetchly

import "context"

// OutputChunk is the unit emitted to the UI sink. Chunks are append-only from
// the orchestrator's perspective; the sink is a pure consumer.
type OutputChunk struct {
	Kind           EventKind
	MessageID      string
	ConversationID string

	// Content is the text fragment for token chunks, or the final accumulated
	// text on a terminal chunk.
	Content string

	// Done marks the single terminal chunk of a turn.
	Done bool

	ToolID     string
	ToolName   string
	ToolParams map[string]any
	ToolResult map[string]any

	Error string

	// Plan and Step carry size-reduced views of plan state. The full plan
	// object is never placed on a chunk to bound payload size.
	Plan *PlanSummary
	Step *StepSummary
}

// PlanSummary is the reduced plan view attached to plan-related chunks.
type PlanSummary struct {
	PlanID      string
	Title       string
	Status      PlanStatus
	StepCount   int
	CurrentStep int
}

// StepSummary is the reduced step view attached to step-related chunks.
type StepSummary struct {
	StepID     string
	StepNumber int
	Title      string
	Status     StepStatus
	Result     string
	Error      string
}

// Sink delivers output chunks to the rendering layer. Delivery order must
// match emission order. Implementations must not block the orchestrator
// indefinitely: back-pressure beyond a bounded buffer is a sink fault.
// Send may be called while the processor holds its turn lock, so a Sink must
// never call back into the processor.
type Sink interface {
	Send(ctx context.Context, chunk OutputChunk) error
}
