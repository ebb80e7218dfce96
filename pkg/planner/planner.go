// Package planner turns a run's target, persona, and goals into an
// executable step plan through the model, with safety filtering on both
// input and output.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/safety"
)

// Typed planning failures; the executor maps them to failure kinds.
var (
	// ErrPlanUnsafe covers injection in goals and off-domain navigation in
	// the produced plan.
	ErrPlanUnsafe = errors.New("plan rejected by safety checks")

	// ErrPlanEmpty means the model produced no usable steps after
	// sanitization.
	ErrPlanEmpty = errors.New("plan is empty after sanitization")
)

// planTemperature leaves the model some freedom in decomposing goals.
const planTemperature = 0.2

const planPrompt = `You plan browser test runs. Given a target URL, a user persona, and test goals,
produce the minimal ordered sequence of browser actions that exercises the goals.
Respond with a JSON array only. Each element:
  {"action": "navigate"|"click"|"type"|"hover"|"wait"|"scroll"|"screenshot"|"measure_performance",
   "target": "<human description of the element, for non-navigate actions>",
   "value": "<URL for navigate, text for type, otherwise omit>"}
Do not include selectors; they are resolved at execution time.
Never navigate away from the target site.`

// Planner produces sanitized, domain-checked step plans.
type Planner struct {
	client    llm.Client
	sanitizer *safety.PlanSanitizer
	detector  *safety.InjectionDetector
	logger    *slog.Logger
}

func New(client llm.Client, sanitizer *safety.PlanSanitizer) *Planner {
	return &Planner{
		client:    client,
		sanitizer: sanitizer,
		detector:  safety.NewInjectionDetector(),
		logger:    slog.Default(),
	}
}

// Plan generates the step plan for a run. The input is size-capped and
// injection-scanned before any model call; the output is sanitized and
// checked against the approved domain.
func (p *Planner) Plan(ctx context.Context, targetURL, persona string, goals []string) ([]models.ActionStep, error) {
	if err := p.sanitizer.ValidatePromptSize(targetURL, persona, goals); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanUnsafe, err)
	}
	if ok, category := p.detector.AreSafe(goals); !ok {
		return nil, fmt.Errorf("%w: goal flagged as %s", ErrPlanUnsafe, category)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Target URL: %s\n", targetURL)
	if persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", persona)
	}
	b.WriteString("Goals:\n")
	for _, g := range goals {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	raw, err := p.client.Call(ctx, planPrompt, b.String(), planTemperature)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	steps, err := parsePlan(raw)
	if err != nil {
		return nil, err
	}

	steps = p.sanitizer.Sanitize(steps)
	if len(steps) == 0 {
		return nil, ErrPlanEmpty
	}

	host, err := safety.ApprovedHost(targetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanUnsafe, err)
	}
	if !p.sanitizer.IsSafe(steps, host) {
		return nil, fmt.Errorf("%w: plan navigates off %s", ErrPlanUnsafe, host)
	}

	p.logger.Info("Plan generated", "steps", len(steps), "target", host)
	return steps, nil
}

// parsePlan decodes the model's JSON step array, tolerating code fences,
// and assigns step IDs.
func parsePlan(raw string) ([]models.ActionStep, error) {
	var parsed []struct {
		Action string            `json:"action"`
		Target string            `json:"target"`
		Value  string            `json:"value"`
		Params map[string]string `json:"params"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("plan parse: %w", err)
	}

	steps := make([]models.ActionStep, 0, len(parsed))
	for _, s := range parsed {
		action := models.Action(strings.ToLower(strings.TrimSpace(s.Action)))
		if !validPlanAction(action) {
			// Unknown actions are dropped, not fatal; the rest of the plan
			// is still executable.
			slog.Warn("Dropping step with unknown action", "action", s.Action)
			continue
		}
		steps = append(steps, models.ActionStep{
			ID:     uuid.NewString(),
			Action: action,
			Target: s.Target,
			Value:  s.Value,
			Params: s.Params,
		})
	}
	return steps, nil
}

func validPlanAction(a models.Action) bool {
	switch a {
	case models.ActionNavigate, models.ActionClick, models.ActionType,
		models.ActionHover, models.ActionWait, models.ActionScroll,
		models.ActionScreenshot, models.ActionMeasurePerformance:
		return true
	}
	return false
}
