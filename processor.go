package aifetchly

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResumePayload carries a locally executed tool result back to the remote
// agent so it can continue generating.
type ResumePayload struct {
	ToolCallID string
	ToolName   string
	Success    bool
	Result     map[string]any
	DurationMS int64
}

// AgentTransport is the outbound side of the remote agent connection. The
// continuation events the agent produces in response arrive through the same
// inbound event channel the processor is already draining, so resuming never
// re-enters dispatch recursively.
type AgentTransport interface {
	SendToolResult(ctx context.Context, resume ResumePayload) error
}

// StreamProcessor is the single point of dispatch for every stream event
// kind. It owns the conversation stream state and the active plan for the
// duration of one turn.
type StreamProcessor struct {
	sink      Sink
	store     Store
	executor  *ToolExecutor
	transport AgentTransport
	logger    *slog.Logger
}

// ProcessorOption configures a StreamProcessor.
type ProcessorOption func(*StreamProcessor)

// WithStore sets the best-effort persistence collaborator.
func WithStore(store Store) ProcessorOption {
	return func(p *StreamProcessor) {
		p.store = store
	}
}

// WithExecutor sets the tool executor for locally executed tool calls.
func WithExecutor(executor *ToolExecutor) ProcessorOption {
	return func(p *StreamProcessor) {
		p.executor = executor
	}
}

// WithTransport sets the outbound transport used to resume the remote agent
// with local tool results.
func WithTransport(transport AgentTransport) ProcessorOption {
	return func(p *StreamProcessor) {
		p.transport = transport
	}
}

// WithProcessorLogger sets the logger. Default is discard.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *StreamProcessor) {
		p.logger = logger
	}
}

// NewStreamProcessor creates a processor emitting to the given sink.
func NewStreamProcessor(sink Sink, options ...ProcessorOption) *StreamProcessor {
	p := &StreamProcessor{
		sink:   sink,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// turnState is the conversation stream state of one turn. The event loop is
// its single owner; tool-completion goroutines touch only the mutex-guarded
// fields (pending set, deferred completion, accumulated content).
type turnState struct {
	mu sync.Mutex

	messageID      string
	conversationID string
	content        strings.Builder
	startEmitted   bool
	persisted      bool

	pending  map[string]struct{}
	deferred *OutputChunk

	tools sync.WaitGroup
	plans planTracker
}

// Run consumes one turn's events in arrival order until the channel closes,
// then waits for outstanding tool executions so the terminal chunk is always
// flushed before returning. A protocol violation (ErrMissingToolName) stops
// event processing and is returned after outstanding tools settle; callers
// must recognize it with errors.Is and keep it off user-facing surfaces.
func (p *StreamProcessor) Run(ctx context.Context, events <-chan StreamEvent) error {
	logger := p.logger.With("turn_id", uuid.New().String())
	ctx = ctxWithLogger(ctx, logger)

	st := &turnState{pending: make(map[string]struct{})}

	var procErr error
	for ev := range events {
		if err := p.processEvent(ctx, st, ev); err != nil {
			procErr = err
			break
		}
	}

	st.tools.Wait()
	return procErr
}

func (p *StreamProcessor) processEvent(ctx context.Context, st *turnState, ev StreamEvent) error {
	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case EventToken:
		p.handleToken(ctx, st, ev.Payload)
	case EventToolCall:
		return p.handleToolCall(ctx, st, ev.Payload)
	case EventToolResult:
		p.handleRemoteToolResult(ctx, st, ev.Payload)
	case EventError, EventDone, EventConversationEnd:
		p.handleTerminal(ctx, st, ev.Kind, ev.Payload)
	case EventConversationStart:
		p.handleConversationStart(ctx, st, ev.Payload)
	case EventPong:
		// Keep-alive only.
	case EventPlanCreated, EventPlanStepStart, EventPlanStepComplete, EventPlanPause, EventPlanResume:
		p.handlePlanEvent(ctx, st, ev)
	default:
		LoggerFromContext(ctx).Warn("dropping event of unknown kind", "kind", ev.Kind)
	}
	return nil
}

// ensureIDsLocked lazily assigns identifiers the transport has not provided.
func (p *StreamProcessor) ensureIDsLocked(st *turnState, payload map[string]any) {
	if st.messageID == "" {
		st.messageID = payloadString(payload, "messageId")
	}
	if st.messageID == "" {
		st.messageID = uuid.New().String()
	}
	if st.conversationID == "" {
		st.conversationID = payloadString(payload, "conversationId")
	}
}

func (p *StreamProcessor) handleToken(ctx context.Context, st *turnState, payload map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.ensureIDsLocked(st, payload)

	// Token content is passed through verbatim; whitespace is significant.
	content, _ := payload["content"].(string)

	if !st.startEmitted {
		st.startEmitted = true
		p.send(ctx, OutputChunk{
			Kind:           EventConversationStart,
			MessageID:      st.messageID,
			ConversationID: st.conversationID,
		})
	}

	st.content.WriteString(content)
	p.send(ctx, OutputChunk{
		Kind:           EventToken,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		Content:        content,
	})
}

func (p *StreamProcessor) handleToolCall(ctx context.Context, st *turnState, payload map[string]any) error {
	call, err := DecodeToolCall(payload)
	if err != nil {
		// Missing tool name is a transport bug, fatal to the turn.
		return err
	}

	st.mu.Lock()
	p.ensureIDsLocked(st, payload)
	st.pending[call.ID] = struct{}{}
	pendingToolCalls.Inc()

	// Snapshot the turn identifiers under the lock; a later event may still
	// fill them in, and the persist closure and tool goroutine run unlocked.
	record := ToolCallRecord{
		ID:             call.ID,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		Name:           call.Name,
		Params:         call.Params,
		CreatedAt:      time.Now(),
	}
	p.persist(ctx, "tool call", func(ctx context.Context) error {
		return p.store.SaveToolCall(ctx, record)
	})

	p.send(ctx, OutputChunk{
		Kind:           EventToolCall,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		ToolID:         call.ID,
		ToolName:       call.Name,
		ToolParams:     call.Params,
	})
	conversationID := st.conversationID
	st.mu.Unlock()

	st.tools.Add(1)
	go func() {
		defer st.tools.Done()
		p.executeToolCall(ctx, st, call, conversationID)
	}()

	return nil
}

// executeToolCall runs in its own goroutine; multiple tool calls may be in
// flight while the event loop keeps draining the stream.
func (p *StreamProcessor) executeToolCall(ctx context.Context, st *turnState, call *ToolCallPayload, conversationID string) {
	var result *ToolResult
	if p.executor != nil {
		result = p.executor.Execute(ctx, call.Name, call.Params, conversationID)
	} else {
		result = &ToolResult{Error: "no tool executor configured"}
	}

	if result.Success {
		p.finishToolSuccess(ctx, st, call, result)
	} else {
		p.finishToolFailure(ctx, st, call, result)
	}
}

func (p *StreamProcessor) finishToolSuccess(ctx context.Context, st *turnState, call *ToolCallPayload, result *ToolResult) {
	st.mu.Lock()
	p.persist(ctx, "tool result", p.saveResultFn(st, call, result))
	p.send(ctx, OutputChunk{
		Kind:           EventToolResult,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		ToolID:         call.ID,
		ToolName:       call.Name,
		ToolResult:     result.Data,
	})
	st.mu.Unlock()

	// Resume the remote agent before releasing the pending slot so a DONE
	// that raced in cannot close the turn while the agent is continuing.
	if p.transport != nil {
		if err := p.transport.SendToolResult(ctx, ResumePayload{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    true,
			Result:     result.Data,
			DurationMS: result.DurationMS,
		}); err != nil {
			LoggerFromContext(ctx).Warn("failed to resume agent with tool result",
				"tool", call.Name, "tool_id", call.ID, "error", err)
		}
	}

	st.mu.Lock()
	p.removePendingLocked(st, call.ID)
	p.flushDeferredLocked(ctx, st)
	st.mu.Unlock()
}

func (p *StreamProcessor) finishToolFailure(ctx context.Context, st *turnState, call *ToolCallPayload, result *ToolResult) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.persist(ctx, "tool result", p.saveResultFn(st, call, result))
	p.send(ctx, OutputChunk{
		Kind:           EventToolResult,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		ToolID:         call.ID,
		ToolName:       call.Name,
		Error:          result.Error,
	})

	p.removePendingLocked(st, call.ID)

	completion := OutputChunk{
		Kind:           EventError,
		Done:           true,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		Content:        st.content.String(),
		Error:          result.Error,
	}
	if len(st.pending) == 0 {
		p.persistMessageLocked(ctx, st)
		p.send(ctx, completion)
	} else {
		st.deferred = &completion
	}
}

func (p *StreamProcessor) saveResultFn(st *turnState, call *ToolCallPayload, result *ToolResult) func(context.Context) error {
	record := ToolResultRecord{
		CallID:         call.ID,
		ConversationID: st.conversationID,
		Name:           call.Name,
		Success:        result.Success,
		Result:         result.Data,
		Error:          result.Error,
		DurationMS:     result.DurationMS,
		CreatedAt:      time.Now(),
	}
	return func(ctx context.Context) error {
		return p.store.SaveToolResult(ctx, record)
	}
}

// handleRemoteToolResult handles a TOOL_RESULT arriving from the remote side
// rather than from local execution.
func (p *StreamProcessor) handleRemoteToolResult(ctx context.Context, st *turnState, payload map[string]any) {
	res, err := DecodeToolResult(payload)
	if err != nil {
		LoggerFromContext(ctx).Warn("dropping malformed tool result event", "error", err)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	p.persist(ctx, "tool result", func(ctx context.Context) error {
		return p.store.SaveToolResult(ctx, ToolResultRecord{
			CallID:         res.ID,
			ConversationID: st.conversationID,
			Name:           res.Name,
			Success:        res.Success,
			Result:         res.Result,
			Error:          res.Error,
			CreatedAt:      time.Now(),
		})
	})

	p.send(ctx, OutputChunk{
		Kind:           EventToolResult,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		ToolID:         res.ID,
		ToolName:       res.Name,
		ToolResult:     res.Result,
		Error:          res.Error,
	})

	if _, tracked := st.pending[res.ID]; tracked {
		p.removePendingLocked(st, res.ID)
	}
	p.flushDeferredLocked(ctx, st)
}

func (p *StreamProcessor) handleTerminal(ctx context.Context, st *turnState, kind EventKind, payload map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.ensureIDsLocked(st, payload)

	completion := OutputChunk{
		Kind:           kind,
		Done:           true,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		Content:        st.content.String(),
	}
	if kind == EventError {
		completion.Error = payloadString(payload, "message")
		if completion.Error == "" {
			completion.Error = "stream error"
		}
	}

	if kind == EventConversationEnd {
		st.plans.Clear()
	}

	if len(st.pending) == 0 {
		p.persistMessageLocked(ctx, st)
		p.send(ctx, completion)
	} else {
		// A newer terminal signal overwrites any previously deferred one.
		st.deferred = &completion
	}
}

func (p *StreamProcessor) handleConversationStart(ctx context.Context, st *turnState, payload map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.ensureIDsLocked(st, payload)
	st.startEmitted = true

	p.send(ctx, OutputChunk{
		Kind:           EventConversationStart,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
	})
}

// handlePlanEvent validates the payload, delegates to the plan tracker, and
// emits a size-reduced chunk. Plan state is only touched from the event loop;
// the turn lock is taken for chunk ordering only.
func (p *StreamProcessor) handlePlanEvent(ctx context.Context, st *turnState, ev StreamEvent) {
	logger := LoggerFromContext(ctx)

	switch ev.Kind {
	case EventPlanCreated:
		payload, issues := ValidatePlanCreated(ev.Payload)
		if len(issues) > 0 {
			logger.Warn("dropping invalid plan_created event", "issues", issues)
			return
		}
		if prev := st.plans.Active(); prev != nil && prev.Status == PlanStatusInProgress {
			logger.Warn("replacing in-progress plan", "old_plan_id", prev.ID, "new_plan_id", payload.PlanID)
		}
		plan := st.plans.Created(payload)
		p.sendPlanChunk(ctx, st, ev.Kind, plan.Summary(), nil, "")

	case EventPlanStepStart, EventPlanStepComplete:
		payload, issues := ValidateStepEvent(ev.Payload)
		if len(issues) > 0 {
			logger.Warn("dropping invalid plan step event", "kind", ev.Kind, "issues", issues)
			return
		}

		var step *PlanStep
		var err error
		if ev.Kind == EventPlanStepStart {
			step, err = st.plans.StepStart(payload)
		} else {
			step, err = st.plans.StepComplete(payload)
		}

		if errors.Is(err, ErrNoPlan) {
			logger.Warn("plan step event without active plan", "step_id", payload.StepID)
			return
		}
		if err != nil {
			p.recoverPlan(ctx, st, err)
			return
		}

		p.sendPlanChunk(ctx, st, ev.Kind, st.plans.Active().Summary(), step.Summary(), "")

	case EventPlanPause, EventPlanResume:
		payload, _ := ValidatePause(ev.Payload)
		var err error
		if ev.Kind == EventPlanPause {
			err = st.plans.Pause()
		} else {
			err = st.plans.Resume()
		}
		if err != nil {
			logger.Warn("plan pause/resume without active plan", "kind", ev.Kind)
			return
		}
		p.sendPlanChunk(ctx, st, ev.Kind, st.plans.Active().Summary(), nil, payload.Reason)
	}
}

// recoverPlan converts a plan state inconsistency into a visible terminal
// state: the in-progress step is failed with the recovery reason and a
// step-completion chunk is emitted for it.
func (p *StreamProcessor) recoverPlan(ctx context.Context, st *turnState, cause error) {
	LoggerFromContext(ctx).Warn("recovering from plan state inconsistency", "error", cause)

	failed := st.plans.Recover(cause.Error())
	if failed == nil {
		return
	}
	p.sendPlanChunk(ctx, st, EventPlanStepComplete, st.plans.Active().Summary(), failed.Summary(), "")
}

func (p *StreamProcessor) sendPlanChunk(ctx context.Context, st *turnState, kind EventKind, plan *PlanSummary, step *StepSummary, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.send(ctx, OutputChunk{
		Kind:           kind,
		MessageID:      st.messageID,
		ConversationID: st.conversationID,
		Content:        reason,
		Plan:           plan,
		Step:           step,
	})
}

// removePendingLocked removes a tool call from the pending set at most once.
func (p *StreamProcessor) removePendingLocked(st *turnState, id string) {
	if _, ok := st.pending[id]; ok {
		delete(st.pending, id)
		pendingToolCalls.Dec()
	}
}

// flushDeferredLocked emits the deferred completion if and only if the
// pending set is empty. The deferred chunk is flushed exactly once.
func (p *StreamProcessor) flushDeferredLocked(ctx context.Context, st *turnState) {
	if len(st.pending) != 0 || st.deferred == nil {
		return
	}
	completion := *st.deferred
	st.deferred = nil

	p.persistMessageLocked(ctx, st)
	p.send(ctx, completion)
}

// persistMessageLocked persists the accumulated message once per turn.
func (p *StreamProcessor) persistMessageLocked(ctx context.Context, st *turnState) {
	if st.persisted {
		return
	}
	st.persisted = true

	msg := Message{
		ID:             st.messageID,
		ConversationID: st.conversationID,
		Content:        st.content.String(),
		CreatedAt:      time.Now(),
	}
	p.persist(ctx, "message", func(ctx context.Context) error {
		return p.store.SaveMessage(ctx, msg)
	})
}

// persist launches a best-effort persistence write. Failures are logged and
// never propagate to the turn.
func (p *StreamProcessor) persist(ctx context.Context, what string, fn func(context.Context) error) {
	if p.store == nil {
		return
	}
	logger := LoggerFromContext(ctx)
	go func() {
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to persist "+what, "error", err)
		}
	}()
}

// send pushes a chunk to the sink. A sink error is a sink fault: logged, not
// propagated, so rendering problems never corrupt turn state.
func (p *StreamProcessor) send(ctx context.Context, chunk OutputChunk) {
	if err := p.sink.Send(ctx, chunk); err != nil {
		LoggerFromContext(ctx).Warn("sink rejected chunk", "kind", chunk.Kind, "error", err)
	}
}
