package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/safety"
)

// optionalStepKeywords mark targets whose failure should not sink a run:
// consent layers, promo popups, chat widgets. When a step naming one of
// these cannot be made to work, the reflector's abort is downgraded to skip.
var optionalStepKeywords = []string{
	"cookie", "consent", "accept", "gdpr", "privacy", "agree", "terms", "tos",
	"legal", "newsletter", "popup", "dismiss", "close-modal", "no-thanks",
	"chat-widget", "chatbot", "live-chat", "ad-feedback", "ad-choice",
}

// reflectTemperature keeps failure diagnosis near-deterministic.
const reflectTemperature = 0.1

// maxWaitMs caps a single reflector-requested wait.
const maxWaitMs = 10000

const reflectPrompt = `You diagnose failed browser test steps. Given the step, the error, and
page snapshots from before and after the attempt, decide what to do next.
Respond with JSON only:
  {"verdict": "success"|"retry"|"wait"|"abort"|"skip",
   "reason": "...",
   "selector": "<corrected selector, for retry>",
   "wait_ms": <milliseconds, for wait>,
   "repair_steps": [<steps to run before retrying, same shape as plan steps>]}
Verdicts:
  success - the page state shows the step actually took effect despite the error
  retry   - retry, optionally with a corrected selector and repair steps first
  wait    - the page is still loading or animating; wait then retry unchanged
  abort   - the goal is impossible on this page; stop the run
  skip    - the step is non-essential and the run should continue without it`

// Reflector diagnoses step failures into one of five verdicts.
type Reflector struct {
	client    llm.Client
	sanitizer *safety.PromptSanitizer
	logger    *slog.Logger
}

func NewReflector(client llm.Client, sanitizer *safety.PromptSanitizer) *Reflector {
	return &Reflector{client: client, sanitizer: sanitizer, logger: slog.Default()}
}

// Reflect diagnoses a failed step. Model errors degrade to a plain retry
// verdict rather than failing the run; the retry cap still bounds the loop.
func (r *Reflector) Reflect(ctx context.Context, step models.ActionStep, stepErr string, before, after *models.DomSnapshot) models.ReflectionResult {
	result, err := r.reflectWithModel(ctx, step, stepErr, before, after)
	if err != nil {
		r.logger.Warn("Reflection failed, defaulting to retry",
			"step_id", step.ID, "error", err)
		return models.ReflectRetry("reflection unavailable: "+stepErr, step.WithoutSelector())
	}

	// A step that only exists to clear optional chrome must never sink the
	// run; downgrade abort to skip for those.
	if result.Verdict == models.VerdictAbort && IsOptionalStep(step) {
		r.logger.Info("Downgrading abort to skip for optional step",
			"step_id", step.ID, "target", step.Target)
		return models.ReflectSkip("optional step could not be completed: " + result.Reason)
	}
	return result
}

// Verify judges a step whose tool call returned no error. The policy is
// local; no model call is made.
//
// navigate demands a non-empty landing URL, click demands a DOM change
// (tolerating change-free clicks once the retry budget is spent, since some
// clicks only fire analytics), and everything else counts as done. Typed
// values may be masked by the page, so type never fails here.
func (r *Reflector) Verify(step models.ActionStep, before, after *models.DomSnapshot, retryCount, maxRetries int) models.ReflectionResult {
	switch step.Action {
	case models.ActionNavigate:
		if after != nil && after.URL != "" {
			return models.ReflectSuccess(step.Selector)
		}
		return models.ReflectRetry("page not loaded, empty URL after navigate", step,
			models.ActionStep{ID: newStepID(), Action: models.ActionWait, Value: "2000"})
	case models.ActionClick:
		if before.Changed(after) {
			return models.ReflectSuccess(step.Selector)
		}
		if retryCount >= maxRetries {
			return models.ReflectSuccess(step.Selector)
		}
		return models.ReflectWait("click produced no DOM change", 1000)
	default:
		return models.ReflectSuccess(step.Selector)
	}
}

func (r *Reflector) reflectWithModel(ctx context.Context, step models.ActionStep, stepErr string, before, after *models.DomSnapshot) (models.ReflectionResult, error) {
	stepJSON, _ := json.Marshal(step)

	var b strings.Builder
	fmt.Fprintf(&b, "Step: %s\nError: %s\n\n", stepJSON, stepErr)
	b.WriteString(r.sanitizer.Sandwich(snapshotText("Before", before)+"\n\n"+snapshotText("After", after),
		"Diagnose the failure per the verdict rules."))

	raw, err := r.client.Call(ctx, reflectPrompt, b.String(), reflectTemperature)
	if err != nil {
		return models.ReflectionResult{}, fmt.Errorf("reflection call: %w", err)
	}
	return parseReflection(raw, step)
}

func parseReflection(raw string, step models.ActionStep) (models.ReflectionResult, error) {
	var parsed struct {
		Verdict     string `json:"verdict"`
		Reason      string `json:"reason"`
		Selector    string `json:"selector"`
		WaitMs      int    `json:"wait_ms"`
		RepairSteps []struct {
			Action string `json:"action"`
			Target string `json:"target"`
			Value  string `json:"value"`
		} `json:"repair_steps"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return models.ReflectionResult{}, fmt.Errorf("reflection parse: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Verdict)) {
	case "success":
		return models.ReflectSuccess(parsed.Selector), nil
	case "retry":
		retry := step
		if parsed.Selector != "" {
			retry = step.WithSelector(parsed.Selector)
		} else {
			retry = step.WithoutSelector()
		}
		repair := make([]models.ActionStep, 0, len(parsed.RepairSteps))
		for _, rs := range parsed.RepairSteps {
			repair = append(repair, models.ActionStep{
				ID:     newStepID(),
				Action: models.Action(strings.ToLower(rs.Action)),
				Target: rs.Target,
				Value:  rs.Value,
			})
		}
		return models.ReflectRetry(parsed.Reason, retry, repair...), nil
	case "wait":
		ms := parsed.WaitMs
		if ms <= 0 {
			ms = 1000
		}
		if ms > maxWaitMs {
			ms = maxWaitMs
		}
		return models.ReflectWait(parsed.Reason, ms), nil
	case "abort":
		return models.ReflectAbort(parsed.Reason), nil
	case "skip":
		return models.ReflectSkip(parsed.Reason), nil
	default:
		return models.ReflectionResult{}, fmt.Errorf("unknown verdict %q", parsed.Verdict)
	}
}

// IsOptionalStep reports whether a step targets non-essential page chrome.
func IsOptionalStep(step models.ActionStep) bool {
	text := strings.ToLower(step.Target + " " + step.Value)
	for _, kw := range optionalStepKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func snapshotText(label string, s *models.DomSnapshot) string {
	if s == nil {
		return label + ": (no snapshot)"
	}
	return fmt.Sprintf("%s (%s):\n%s", label, s.URL, s.Content)
}
