package aifetchly

import (
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
)

func newTestPlan(t *testing.T, tracker *planTracker, stepCount int) *Plan {
	t.Helper()
	steps := make([]PlanStepPayload, stepCount)
	for i := range steps {
		steps[i] = PlanStepPayload{
			StepID:     fmt.Sprintf("step_%d", i+1),
			StepNumber: i + 1,
			Title:      fmt.Sprintf("Task %d", i+1),
		}
	}
	return tracker.Created(&PlanCreatedPayload{
		PlanID: "plan-1",
		Title:  "Test plan",
		Steps:  steps,
	})
}

func TestPlanTrackerCreated(t *testing.T) {
	t.Run("builds a plan in created state", func(t *testing.T) {
		var tracker planTracker
		plan := newTestPlan(t, &tracker, 2)

		gt.Equal(t, plan.Status, PlanStatusCreated)
		gt.Equal(t, plan.CurrentStepIndex, 0)
		gt.Equal(t, len(plan.Steps), 2)
		gt.Equal(t, plan.Steps[0].Status, StepStatusPending)
	})

	t.Run("generates a plan id when absent", func(t *testing.T) {
		var tracker planTracker
		plan := tracker.Created(&PlanCreatedPayload{
			Steps: []PlanStepPayload{{StepID: "step_1", StepNumber: 1, Title: "x"}},
		})
		gt.NotEqual(t, plan.ID, "")
	})

	t.Run("replaces a prior plan", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)
		second := tracker.Created(&PlanCreatedPayload{
			PlanID: "plan-2",
			Steps:  []PlanStepPayload{{StepID: "step_1", StepNumber: 1, Title: "x"}},
		})
		gt.Equal(t, tracker.Active().ID, second.ID)
	})
}

func TestPlanTrackerStepLifecycle(t *testing.T) {
	t.Run("start marks step and plan in progress", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 3)

		step, err := tracker.StepStart(&StepEventPayload{StepID: "step_2", StepNumber: 2})
		gt.NoError(t, err)
		gt.Equal(t, step.Status, StepStatusInProgress)
		gt.NotNil(t, step.StartedAt)
		gt.Equal(t, tracker.Active().Status, PlanStatusInProgress)
		gt.Equal(t, tracker.Active().CurrentStepIndex, 1)
	})

	t.Run("start without a plan is a recoverable no-op", func(t *testing.T) {
		var tracker planTracker
		_, err := tracker.StepStart(&StepEventPayload{StepID: "step_1"})
		gt.True(t, errors.Is(err, ErrNoPlan))
	})

	t.Run("unknown step id reports ErrStepNotFound", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 1)
		_, err := tracker.StepStart(&StepEventPayload{StepID: "nope"})
		gt.True(t, errors.Is(err, ErrStepNotFound))
	})

	t.Run("complete records result and end time", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)

		_, err := tracker.StepStart(&StepEventPayload{StepID: "step_1", StepNumber: 1})
		gt.NoError(t, err)
		step, err := tracker.StepComplete(&StepEventPayload{StepID: "step_1", Success: true, Result: "done"})
		gt.NoError(t, err)
		gt.Equal(t, step.Status, StepStatusCompleted)
		gt.Equal(t, step.Result, "done")
		gt.NotNil(t, step.EndedAt)
	})

	t.Run("statuses never move backward", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 1)

		_, err := tracker.StepComplete(&StepEventPayload{StepID: "step_1", Success: true})
		gt.NoError(t, err)

		// Late start events on a terminal step must not regress it.
		step, err := tracker.StepStart(&StepEventPayload{StepID: "step_1", StepNumber: 1})
		gt.NoError(t, err)
		gt.Equal(t, step.Status, StepStatusCompleted)
	})

	t.Run("plan completes when all steps are terminal", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)

		_, err := tracker.StepComplete(&StepEventPayload{StepID: "step_1", Success: true})
		gt.NoError(t, err)
		gt.NotEqual(t, tracker.Active().Status, PlanStatusCompleted)

		_, err = tracker.StepComplete(&StepEventPayload{StepID: "step_2", Success: true})
		gt.NoError(t, err)
		gt.Equal(t, tracker.Active().Status, PlanStatusCompleted)
	})
}

func TestPlanFailureThreshold(t *testing.T) {
	failSteps := func(t *testing.T, tracker *planTracker, ids ...string) {
		t.Helper()
		for _, id := range ids {
			_, err := tracker.StepComplete(&StepEventPayload{StepID: id, Success: false, Error: "boom"})
			gt.NoError(t, err)
		}
	}

	t.Run("three of four failed steps fail the plan", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 4)
		failSteps(t, &tracker, "step_1", "step_2", "step_3")
		gt.Equal(t, tracker.Active().Status, PlanStatusFailed)
	})

	t.Run("two of four failed steps do not fail the plan", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 4)
		failSteps(t, &tracker, "step_1", "step_2")
		gt.NotEqual(t, tracker.Active().Status, PlanStatusFailed)
	})
}

func TestPlanTrackerRecover(t *testing.T) {
	t.Run("fails the in-progress step with the recovery reason", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 3)
		_, err := tracker.StepStart(&StepEventPayload{StepID: "step_1", StepNumber: 1})
		gt.NoError(t, err)

		failed := tracker.Recover("unexpected state")
		gt.NotNil(t, failed)
		gt.Equal(t, failed.ID, "step_1")
		gt.Equal(t, failed.Status, StepStatusFailed)
		gt.Equal(t, failed.Error, "unexpected state")
	})

	t.Run("returns nil when no step is in progress", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)
		gt.Nil(t, tracker.Recover("nothing running"))
	})

	t.Run("fails the plan when more than half the steps failed", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)
		_, err := tracker.StepComplete(&StepEventPayload{StepID: "step_1", Success: false})
		gt.NoError(t, err)
		_, err = tracker.StepStart(&StepEventPayload{StepID: "step_2", StepNumber: 2})
		gt.NoError(t, err)

		tracker.Recover("broken")
		gt.Equal(t, tracker.Active().Status, PlanStatusFailed)
	})
}

func TestPlanTrackerPauseResume(t *testing.T) {
	t.Run("pause and resume do not touch steps", func(t *testing.T) {
		var tracker planTracker
		newTestPlan(t, &tracker, 2)
		_, err := tracker.StepStart(&StepEventPayload{StepID: "step_1", StepNumber: 1})
		gt.NoError(t, err)

		gt.NoError(t, tracker.Pause())
		gt.Equal(t, tracker.Active().Status, PlanStatusPaused)
		gt.Equal(t, tracker.Active().Steps[0].Status, StepStatusInProgress)

		gt.NoError(t, tracker.Resume())
		gt.Equal(t, tracker.Active().Status, PlanStatusInProgress)
	})

	t.Run("pause without a plan reports ErrNoPlan", func(t *testing.T) {
		var tracker planTracker
		gt.True(t, errors.Is(tracker.Pause(), ErrNoPlan))
	})
}
