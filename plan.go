package aifetchly

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// PlanStatus represents the state of a plan.
type PlanStatus string

const (
	PlanStatusCreated    PlanStatus = "created"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusPaused     PlanStatus = "paused"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusFailed     PlanStatus = "failed"
)

// StepStatus represents the status of a plan step. Statuses only move forward
// along pending -> in_progress -> {completed, failed, skipped}; a step never
// re-enters pending.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

func (s StepStatus) terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Plan is the agent's self-declared decomposition of a turn into ordered
// steps. Exactly one plan is active per conversation turn.
type Plan struct {
	ID               string
	Title            string
	Description      string
	Steps            []*PlanStep
	Status           PlanStatus
	CreatedAt        time.Time
	CurrentStepIndex int
}

// PlanStep is one unit of work in a plan. Steps are looked up by ID; Number
// is a 1-based display ordinal not guaranteed unique across malformed input.
type PlanStep struct {
	ID          string
	Number      int
	Title       string
	Description string
	Status      StepStatus
	StartedAt   *time.Time
	EndedAt     *time.Time
	Result      string
	Error       string
}

// planTracker owns the active plan of one conversation turn and applies
// validated plan events to it.
type planTracker struct {
	plan *Plan
}

// Active returns the current plan, or nil.
func (t *planTracker) Active() *Plan {
	return t.plan
}

// Created builds a new plan from a validated payload and replaces any prior
// plan for the turn. The replaced plan's in-flight step is not cancelled.
func (t *planTracker) Created(payload *PlanCreatedPayload) *Plan {
	planID := payload.PlanID
	if planID == "" {
		planID = uuid.New().String()
	}

	steps := make([]*PlanStep, len(payload.Steps))
	for i, s := range payload.Steps {
		steps[i] = &PlanStep{
			ID:          s.StepID,
			Number:      s.StepNumber,
			Title:       s.Title,
			Description: s.Description,
			Status:      StepStatusPending,
		}
	}

	t.plan = &Plan{
		ID:          planID,
		Title:       payload.Title,
		Description: payload.Description,
		Steps:       steps,
		Status:      PlanStatusCreated,
		CreatedAt:   time.Now(),
	}
	return t.plan
}

// StepStart marks the matching step in_progress and moves the plan into
// in_progress. Without an active plan this is a recoverable no-op condition
// signalled by ErrNoPlan, not a hard failure.
func (t *planTracker) StepStart(payload *StepEventPayload) (*PlanStep, error) {
	if t.plan == nil {
		return nil, ErrNoPlan
	}

	step := t.findStep(payload.StepID)
	if step == nil {
		return nil, goerr.Wrap(ErrStepNotFound, "cannot start step", goerr.V("step_id", payload.StepID))
	}

	if step.Status == StepStatusPending {
		now := time.Now()
		step.Status = StepStatusInProgress
		step.StartedAt = &now
	}

	if !t.planTerminal() {
		t.plan.Status = PlanStatusInProgress
	}
	if payload.StepNumber > 0 {
		t.plan.CurrentStepIndex = payload.StepNumber - 1
	}

	return step, nil
}

func (t *planTracker) planTerminal() bool {
	return t.plan.Status == PlanStatusCompleted || t.plan.Status == PlanStatusFailed
}

// StepComplete marks the matching step completed or failed per the payload's
// success flag, records result or error, and stamps the end time. When every
// step has reached a terminal status the plan itself is closed out.
func (t *planTracker) StepComplete(payload *StepEventPayload) (*PlanStep, error) {
	if t.plan == nil {
		return nil, ErrNoPlan
	}

	step := t.findStep(payload.StepID)
	if step == nil {
		return nil, goerr.Wrap(ErrStepNotFound, "cannot complete step", goerr.V("step_id", payload.StepID))
	}

	if !step.Status.terminal() {
		now := time.Now()
		if payload.Success {
			step.Status = StepStatusCompleted
		} else {
			step.Status = StepStatusFailed
		}
		step.Result = payload.Result
		step.Error = payload.Error
		step.EndedAt = &now
	}

	t.settle()
	return step, nil
}

// Pause sets the plan status to paused without touching step state.
func (t *planTracker) Pause() error {
	if t.plan == nil {
		return ErrNoPlan
	}
	t.plan.Status = PlanStatusPaused
	return nil
}

// Resume sets the plan status back to in_progress without touching step state.
func (t *planTracker) Resume() error {
	if t.plan == nil {
		return ErrNoPlan
	}
	if !t.planTerminal() {
		t.plan.Status = PlanStatusInProgress
	}
	return nil
}

// Recover converts an unexpected error during plan mutation into a visible,
// consistent terminal state: the in-progress step (if any) is marked failed
// with the recovery reason, and the plan is failed when more than half of its
// steps have failed. It returns the failed step so the caller can emit a
// step-completion chunk for it, or nil when no step was in progress.
func (t *planTracker) Recover(reason string) *PlanStep {
	if t.plan == nil {
		return nil
	}

	var failed *PlanStep
	for _, step := range t.plan.Steps {
		if step.Status == StepStatusInProgress {
			now := time.Now()
			step.Status = StepStatusFailed
			step.Error = reason
			step.EndedAt = &now
			failed = step
			break
		}
	}

	t.settle()
	return failed
}

// Clear drops the active plan at conversation end.
func (t *planTracker) Clear() {
	t.plan = nil
}

func (t *planTracker) findStep(stepID string) *PlanStep {
	for _, step := range t.plan.Steps {
		if step.ID == stepID {
			return step
		}
	}
	return nil
}

// settle recomputes the plan-level status from step statuses: failed once
// more than half the steps have failed, completed once every step is
// terminal.
func (t *planTracker) settle() {
	total := len(t.plan.Steps)
	if total == 0 {
		return
	}

	failed, terminal := 0, 0
	for _, step := range t.plan.Steps {
		if step.Status == StepStatusFailed {
			failed++
		}
		if step.Status.terminal() {
			terminal++
		}
	}

	if failed*2 > total {
		t.plan.Status = PlanStatusFailed
	} else if terminal == total {
		t.plan.Status = PlanStatusCompleted
	}
}

// Summary returns the size-reduced view of the plan for output chunks.
func (p *Plan) Summary() *PlanSummary {
	return &PlanSummary{
		PlanID:      p.ID,
		Title:       p.Title,
		Status:      p.Status,
		StepCount:   len(p.Steps),
		CurrentStep: p.CurrentStepIndex,
	}
}

// Summary returns the size-reduced view of the step for output chunks.
func (s *PlanStep) Summary() *StepSummary {
	return &StepSummary{
		StepID:     s.ID,
		StepNumber: s.Number,
		Title:      s.Title,
		Status:     s.Status,
		Result:     s.Result,
		Error:      s.Error,
	}
}
