package aifetchly

import (
	"fmt"
	"regexp"
	"strings"
)

// Ceilings for untrusted plan payloads. Oversize input is rejected as a whole
// unit, never truncated silently.
const (
	MaxPlanSteps      = 50
	MaxPlanTitleLen   = 300
	MaxPlanDescLen    = 2000
	MaxStepTitleLen   = 200
	MaxStepDescLen    = 1000
	MaxStepResultLen  = 2000
	MaxStepErrorLen   = 1000
	MaxPauseReasonLen = 500
)

// PlanCreatedPayload is the sanitized payload of a PLAN_CREATED event.
type PlanCreatedPayload struct {
	PlanID      string
	Title       string
	Description string
	Steps       []PlanStepPayload
}

// PlanStepPayload is one sanitized step entry of a PLAN_CREATED payload.
type PlanStepPayload struct {
	StepID      string
	StepNumber  int
	Title       string
	Description string
}

// StepEventPayload is the sanitized payload of PLAN_STEP_START and
// PLAN_STEP_COMPLETE events.
type StepEventPayload struct {
	StepID     string
	StepNumber int
	Success    bool
	Result     string
	Error      string
}

// PausePayload is the sanitized payload of pause/resume events.
type PausePayload struct {
	Reason string
}

// stepLinePattern matches step entries written as "Step N: title".
var stepLinePattern = regexp.MustCompile(`^[Ss]tep\s+(\d+)\s*:?\s*(.*)$`)

// ValidatePlanCreated sanitizes an untrusted PLAN_CREATED payload. It returns
// either a typed payload or a list of human-readable issues; it never panics
// on malformed input. Step entries may be objects or "Step N: title" strings.
// Any issue rejects the payload as a whole; no partial plan is ever built.
func ValidatePlanCreated(payload map[string]any) (*PlanCreatedPayload, []string) {
	var issues []string

	if payload == nil {
		return nil, []string{"payload is missing"}
	}

	out := &PlanCreatedPayload{
		PlanID: payloadString(payload, "planId"),
	}
	if out.PlanID == "" {
		out.PlanID = payloadString(payload, "plan_id")
	}

	out.Title = payloadString(payload, "title")
	if len(out.Title) > MaxPlanTitleLen {
		issues = append(issues, fmt.Sprintf("plan title exceeds %d characters", MaxPlanTitleLen))
	}

	// Description is optional; a wrong type is dropped, an oversize value rejects.
	out.Description = payloadString(payload, "description")
	if len(out.Description) > MaxPlanDescLen {
		issues = append(issues, fmt.Sprintf("plan description exceeds %d characters", MaxPlanDescLen))
	}

	rawSteps, ok := payload["steps"].([]any)
	if !ok || len(rawSteps) == 0 {
		issues = append(issues, "steps must be a non-empty array")
	}
	if len(rawSteps) > MaxPlanSteps {
		issues = append(issues, fmt.Sprintf("plan has %d steps, maximum is %d", len(rawSteps), MaxPlanSteps))
	}

	if len(issues) > 0 {
		return nil, issues
	}

	for i, raw := range rawSteps {
		step, stepIssues := sanitizeStepEntry(raw, i+1)
		if len(stepIssues) > 0 {
			issues = append(issues, stepIssues...)
			continue
		}
		out.Steps = append(out.Steps, step)
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return out, nil
}

// sanitizeStepEntry sanitizes one step entry. position is the 1-based index
// used for fallbacks when the entry carries no usable number or title.
func sanitizeStepEntry(raw any, position int) (PlanStepPayload, []string) {
	var issues []string
	step := PlanStepPayload{StepNumber: position}

	switch v := raw.(type) {
	case string:
		line := strings.TrimSpace(v)
		if m := stepLinePattern.FindStringSubmatch(line); m != nil {
			if n, ok := parsePositiveInt(m[1]); ok {
				step.StepNumber = n
			}
			step.Title = strings.TrimSpace(m[2])
		} else {
			step.Title = line
		}

	case map[string]any:
		step.StepID = payloadString(v, "stepId")
		if step.StepID == "" {
			step.StepID = payloadString(v, "step_id")
		}
		step.Title = payloadString(v, "title")
		step.Description = payloadString(v, "description")
		if n, ok := payloadInt(v, "stepNumber"); ok {
			if n <= 0 {
				issues = append(issues, fmt.Sprintf("step %d: stepNumber must be a positive integer", position))
			} else {
				step.StepNumber = n
			}
		}

	default:
		issues = append(issues, fmt.Sprintf("step %d: entry must be a string or an object", position))
		return step, issues
	}

	if step.Title == "" {
		step.Title = fmt.Sprintf("Step %d", step.StepNumber)
	}
	if len(step.Title) > MaxStepTitleLen {
		issues = append(issues, fmt.Sprintf("step %d: title exceeds %d characters", position, MaxStepTitleLen))
	}
	if len(step.Description) > MaxStepDescLen {
		issues = append(issues, fmt.Sprintf("step %d: description exceeds %d characters", position, MaxStepDescLen))
	}
	if step.StepID == "" {
		step.StepID = fmt.Sprintf("step_%d", step.StepNumber)
	}

	return step, issues
}

// ValidateStepEvent sanitizes PLAN_STEP_START / PLAN_STEP_COMPLETE payloads.
// The step ID is the only required field.
func ValidateStepEvent(payload map[string]any) (*StepEventPayload, []string) {
	var issues []string

	if payload == nil {
		return nil, []string{"payload is missing"}
	}

	out := &StepEventPayload{Success: payloadBool(payload, "success", true)}

	out.StepID = payloadString(payload, "stepId")
	if out.StepID == "" {
		out.StepID = payloadString(payload, "step_id")
	}
	if out.StepID == "" {
		issues = append(issues, "stepId is required")
	}

	if n, ok := payloadInt(payload, "stepNumber"); ok {
		if n <= 0 {
			issues = append(issues, "stepNumber must be a positive integer")
		} else {
			out.StepNumber = n
		}
	}

	out.Result = payloadString(payload, "result")
	if len(out.Result) > MaxStepResultLen {
		issues = append(issues, fmt.Sprintf("result exceeds %d characters", MaxStepResultLen))
	}
	out.Error = payloadString(payload, "error")
	if len(out.Error) > MaxStepErrorLen {
		issues = append(issues, fmt.Sprintf("error exceeds %d characters", MaxStepErrorLen))
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return out, nil
}

// ValidatePause sanitizes PLAN_EXECUTE_PAUSE / PLAN_EXECUTE_RESUME payloads.
// The reason is optional; an oversize reason is dropped, not rejected, since
// pause/resume must still take effect.
func ValidatePause(payload map[string]any) (*PausePayload, []string) {
	out := &PausePayload{Reason: payloadString(payload, "reason")}
	if len(out.Reason) > MaxPauseReasonLen {
		out.Reason = ""
	}
	return out, nil
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
