package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/uiprobe/uiprobe/pkg/bridge"
	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/obstacle"
	"github.com/uiprobe/uiprobe/pkg/selector"
)

// loopOutcome is the step loop's termination axis.
type loopOutcome int

const (
	outcomeCompleted loopOutcome = iota // queue drained
	outcomeIterationCap
	outcomeTimeout
	outcomeAborted
)

// ScreenshotSink persists captured screenshots and returns a reference.
type ScreenshotSink interface {
	SaveScreenshot(ctx context.Context, runID, stepID string, data []byte) (string, error)
}

// stepDriver is the browser surface the loop drives: the obstacle-clearing
// subset plus raw tool calls. Satisfied by bridgeDriver in production and
// by fakes in tests.
type stepDriver interface {
	obstacle.Browser
	callTool(ctx context.Context, name string, args map[string]any) (*bridge.ToolResult, error)
}

// bridgeDriver binds a run's context ID to the bridge client and adapts it
// to the obstacle.Browser surface.
type bridgeDriver struct {
	client *bridge.Client
	runID  string
}

var _ obstacle.Browser = (*bridgeDriver)(nil)

func (d *bridgeDriver) Click(ctx context.Context, sel string) error {
	_, err := d.client.CallTool(ctx, "click", map[string]any{"runId": d.runID, "selector": sel})
	return err
}

func (d *bridgeDriver) Evaluate(ctx context.Context, script string) error {
	_, err := d.client.CallTool(ctx, "evaluate", map[string]any{"runId": d.runID, "script": script})
	return err
}

func (d *bridgeDriver) Snapshot(ctx context.Context) (*models.DomSnapshot, error) {
	return d.client.Snapshot(ctx, d.runID)
}

func (d *bridgeDriver) callTool(ctx context.Context, name string, args map[string]any) (*bridge.ToolResult, error) {
	args["runId"] = d.runID
	return d.client.CallTool(ctx, name, args)
}

// stepLoop drives one run's queue to a terminal outcome. Owned by a single
// goroutine.
type stepLoop struct {
	cfg       *config.RunnerConfig
	run       *models.TestRun
	driver    stepDriver
	resolver  *selector.Resolver
	clearer   *obstacle.Clearer
	reflector *Reflector
	suggester *Suggester
	sleeper   obstacle.Sleeper
	shots     ScreenshotSink
	persist   func(*models.TestRun)
	logger    *slog.Logger

	queue    *ActionQueue
	done     *DoneQueue
	retries  map[string]int
	deadline time.Time
}

// abortError carries the reflector's abort reason out of the loop.
type abortError struct{ reason string }

func (e *abortError) Error() string { return e.reason }

// drive executes the loop until a termination axis fires. The returned
// string is the failure description for non-completed outcomes; a non-nil
// error means a system failure (bridge or model infrastructure).
func (l *stepLoop) drive(ctx context.Context) (loopOutcome, string, error) {
	for iteration := 1; ; iteration++ {
		if time.Now().After(l.deadline) {
			elapsed := time.Since(l.deadline.Add(-l.cfg.TestTimeout)).Round(time.Millisecond)
			return outcomeTimeout,
				fmt.Sprintf("step-loop phase exceeded the wall-clock budget of %s (elapsed %s)",
					l.cfg.TestTimeout, elapsed), nil
		}
		if iteration > l.cfg.MaxLoopIterations {
			return outcomeIterationCap,
				fmt.Sprintf("iteration cap of %d reached with %d steps pending", l.cfg.MaxLoopIterations, l.queue.Len()), nil
		}
		if err := ctx.Err(); err != nil {
			return outcomeAborted, "run cancelled", nil
		}

		step, ok := l.queue.Pop()
		if !ok {
			return outcomeCompleted, "", nil
		}

		if err := l.executeStep(ctx, step); err != nil {
			var abort *abortError
			if errors.As(err, &abort) {
				return outcomeAborted, abort.reason, nil
			}
			return outcomeAborted, "", err
		}
	}
}

// checkpoint flushes the done queue into the run and persists it, so a
// crash mid-run loses at most the in-flight step.
func (l *stepLoop) checkpoint() {
	l.run.ExecutedSteps = l.done.Steps()
	if l.persist != nil {
		l.persist(l.run)
	}
}

// executeStep runs one step end to end: snapshot, obstacle clearing,
// selector resolution, tool call, outcome verification or reflection, and
// verdict dispatch.
func (l *stepLoop) executeStep(ctx context.Context, step models.ActionStep) error {
	started := time.Now()

	before, err := l.driver.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("pre-step snapshot: %w", err)
	}

	// Clear blocking overlays before driving the page. Navigate steps skip
	// this; the page they land on has not rendered yet.
	if step.Action != models.ActionNavigate {
		cleared, err := l.clearer.Clear(ctx, before)
		l.done.PushAll(cleared)
		if err != nil {
			return fmt.Errorf("obstacle clearing: %w", err)
		}
		if len(cleared) > 0 {
			before, err = l.driver.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("post-clear snapshot: %w", err)
			}
		}
	}

	resolved, sel, err := l.resolveStep(ctx, step, before)
	if err != nil {
		record := models.ExecutedStep{Step: step, Before: before}
		result := l.reflector.Reflect(ctx, step, err.Error(), before, nil)
		return l.dispatch(ctx, step, result, record, started)
	}
	if resolved.Disposition != "" {
		// Consent fallback already performed the interaction.
		resolved.Duration = time.Since(started)
		resolved.Before = before
		l.done.Push(resolved)
		l.checkpoint()
		return nil
	}

	executed, stepErr := l.callTool(ctx, step, sel)
	executed.Step = step
	executed.SelectorUsed = sel
	executed.Before = before
	executed.Timestamp = started

	after, snapErr := l.driver.Snapshot(ctx)
	if snapErr == nil {
		executed.After = after
	}

	var result models.ReflectionResult
	switch {
	case stepErr != nil:
		l.resolver.RecordOutcome(l.run.TenantID, step, before, sel, false)
		result = l.reflector.Reflect(ctx, step, stepErr.Error(), before, executed.After)
	case executed.After == nil:
		l.resolver.RecordOutcome(l.run.TenantID, step, before, sel, false)
		result = l.reflector.Reflect(ctx, step,
			fmt.Sprintf("post-step snapshot unavailable: %v", snapErr), before, nil)
	default:
		result = l.reflector.Verify(step, before, executed.After, l.retries[step.ID], l.cfg.MaxRetries)
	}
	return l.dispatch(ctx, step, result, executed, started)
}

// resolveStep produces the selector for selector-driven actions. When the
// resolver defers to the consent fallback, the interaction happens here and
// a completed audit step is returned instead of a selector.
func (l *stepLoop) resolveStep(ctx context.Context, step models.ActionStep, before *models.DomSnapshot) (models.ExecutedStep, string, error) {
	if !needsSelector(step.Action) {
		return models.ExecutedStep{}, "", nil
	}

	sel, err := l.resolver.Resolve(ctx, l.run.TenantID, step, before)
	if err != nil {
		return models.ExecutedStep{}, "", err
	}

	if strings.HasPrefix(sel, selector.ConsentFallbackPrefix) {
		target := strings.TrimPrefix(sel, selector.ConsentFallbackPrefix)
		used, err := l.clearer.TryConsentFallback(ctx, target)
		if err != nil {
			return models.ExecutedStep{}, "", err
		}
		return models.ExecutedStep{
			Step:         step,
			SelectorUsed: used,
			Disposition:  models.StepSuccess,
			Reason:       "consent fallback selector",
			Timestamp:    time.Now(),
		}, "", nil
	}
	return models.ExecutedStep{}, sel, nil
}

// dispatch applies a verdict to the queue and the done log. Success, abort,
// and skip are terminal for the step: they discard the step's retry counter
// and checkpoint the run.
func (l *stepLoop) dispatch(ctx context.Context, step models.ActionStep, result models.ReflectionResult, record models.ExecutedStep, started time.Time) error {
	record.Retries = l.retries[step.ID]
	record.Duration = time.Since(started)
	if record.Timestamp.IsZero() {
		record.Timestamp = started
	}

	switch result.Verdict {
	case models.VerdictSuccess:
		record.Disposition = models.StepSuccess
		if result.Reason != "" {
			record.Reason = "reflection: " + result.Reason
		}
		if result.Selector != "" && record.SelectorUsed == "" {
			record.SelectorUsed = result.Selector
		}
		if record.SelectorUsed != "" {
			l.resolver.RecordOutcome(l.run.TenantID, step, record.Before, record.SelectorUsed, true)
		}
		if l.suggester != nil {
			record.Suggestion = l.suggester.Suggest(ctx, record)
		}
		if step.Action != models.ActionScreenshot {
			l.captureStepScreenshot(ctx, &record)
		}
		delete(l.retries, step.ID)
		l.done.Push(record)
		l.checkpoint()
		return nil

	case models.VerdictRetry:
		l.retries[step.ID]++
		if l.retries[step.ID] > l.cfg.MaxRetries {
			delete(l.retries, step.ID)
			if IsOptionalStep(step) {
				record.Disposition = models.StepSkipped
				record.Reason = fmt.Sprintf("optional step skipped after %d retries: %s", l.cfg.MaxRetries, result.Reason)
				l.done.Push(record)
				l.checkpoint()
				return nil
			}
			record.Disposition = models.StepFailed
			record.Reason = fmt.Sprintf("failed after %d retries: %s", l.cfg.MaxRetries, result.Reason)
			l.done.Push(record)
			l.checkpoint()
			return &abortError{reason: record.Reason}
		}
		// Repair steps run first, then the retried step, all behind
		// whatever is already queued.
		l.queue.PushAll(result.RepairSteps)
		if result.RetryStep != nil {
			l.queue.Push(*result.RetryStep)
		} else {
			l.queue.Push(step.WithoutSelector())
		}
		l.logger.Info("Retrying step", "step_id", step.ID,
			"attempt", l.retries[step.ID], "repair_steps", len(result.RepairSteps))
		return nil

	case models.VerdictWait:
		if err := l.sleeper.Sleep(ctx, time.Duration(result.WaitMs)*time.Millisecond); err != nil {
			return err
		}
		l.retries[step.ID]++
		l.queue.Push(step)
		return nil

	case models.VerdictAbort:
		record.Disposition = models.StepFailed
		record.Reason = "aborted: " + result.Reason
		delete(l.retries, step.ID)
		l.done.Push(record)
		l.checkpoint()
		return &abortError{reason: result.Reason}

	default: // VerdictSkip
		record.Disposition = models.StepSkipped
		record.Reason = result.Reason
		delete(l.retries, step.ID)
		l.done.Push(record)
		l.checkpoint()
		return nil
	}
}

// captureStepScreenshot attaches a full-page screenshot to a successful
// step, keyed by its index in the run log. Failures only log; a missing
// screenshot never fails a step that already succeeded.
func (l *stepLoop) captureStepScreenshot(ctx context.Context, record *models.ExecutedStep) {
	if l.shots == nil {
		return
	}
	result, err := l.driver.callTool(ctx, "take_screenshot", map[string]any{"fullPage": true})
	if err != nil || result == nil || len(result.Image) == 0 {
		l.logger.Debug("Step screenshot capture failed", "step_id", record.Step.ID, "error", err)
		return
	}
	ref, err := l.shots.SaveScreenshot(ctx, l.run.ID, strconv.Itoa(l.done.Len()), result.Image)
	if err != nil {
		l.logger.Warn("Screenshot persistence failed", "step_id", record.Step.ID, "error", err)
		return
	}
	record.Screenshot = ref
}

// callTool translates a step to its bridge tool call.
func (l *stepLoop) callTool(ctx context.Context, step models.ActionStep, sel string) (models.ExecutedStep, error) {
	var executed models.ExecutedStep

	name, args := toolCallFor(step, sel)

	// Screenshots whose target names a page region scroll there first.
	if step.Action == models.ActionScreenshot {
		if script, ok := screenshotScrollScript(step); ok {
			if err := l.driver.Evaluate(ctx, script); err != nil {
				return executed, fmt.Errorf("pre-screenshot scroll: %w", err)
			}
		}
	}

	result, err := l.driver.callTool(ctx, name, args)
	if result != nil {
		executed.ConsoleLogs = result.ConsoleLogs
		executed.PageErrors = result.PageErrors
	}
	if err != nil {
		return executed, err
	}

	switch step.Action {
	case models.ActionScreenshot:
		if l.shots != nil && len(result.Image) > 0 {
			ref, err := l.shots.SaveScreenshot(ctx, l.run.ID, step.ID, result.Image)
			if err != nil {
				l.logger.Warn("Screenshot persistence failed", "step_id", step.ID, "error", err)
			} else {
				executed.Screenshot = ref
			}
		}
	case models.ActionMeasurePerformance:
		perf, err := bridge.ParsePerformanceMetrics(result.Text)
		if err != nil {
			return executed, err
		}
		executed.Performance = perf
	}
	return executed, nil
}

// toolCallFor maps an action to its bridge tool name and arguments.
func toolCallFor(step models.ActionStep, sel string) (string, map[string]any) {
	switch step.Action {
	case models.ActionNavigate:
		url := step.Value
		if url == "" {
			url = step.Target
		}
		return "navigate_page", map[string]any{"url": url}
	case models.ActionClick:
		return "click", map[string]any{"selector": sel}
	case models.ActionType:
		return "fill", map[string]any{"selector": sel, "value": step.Value}
	case models.ActionHover:
		return "hover", map[string]any{"selector": sel}
	case models.ActionWait:
		return "wait_for", waitArgs(step)
	case models.ActionScreenshot:
		return "take_screenshot", map[string]any{"fullPage": true}
	case models.ActionScroll:
		return "evaluate", map[string]any{"script": scrollScript(step)}
	case models.ActionMeasurePerformance:
		return "get_performance_metrics", map[string]any{}
	default:
		return string(step.Action), map[string]any{}
	}
}

// waitArgs normalizes a wait step: a numeric value is milliseconds, any
// other value is text to wait for.
func waitArgs(step models.ActionStep) map[string]any {
	v := strings.TrimSpace(step.Value)
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return map[string]any{"time": ms}
	}
	if v != "" {
		return map[string]any{"text": v}
	}
	return map[string]any{"time": 1000}
}

var (
	percentPattern = regexp.MustCompile(`(\d+)\s*(?:%|percent)`)
	pixelPattern   = regexp.MustCompile(`(\d+)\s*(?:px|pixels?)`)
)

// stepText gathers the natural-language description of a step for scroll
// synthesis: target, value, and the explicit direction param if present.
func stepText(step models.ActionStep) string {
	return strings.ToLower(step.Target + " " + step.Value + " " + step.Params["direction"])
}

// scrollScript synthesizes the evaluate payload for scroll steps from the
// step's description.
func scrollScript(step models.ActionStep) string {
	desc := stepText(step)
	switch {
	case strings.Contains(desc, "top"):
		return "window.scrollTo(0, 0)"
	case strings.Contains(desc, "bottom"), strings.Contains(desc, "footer"), strings.Contains(desc, "end of"):
		return "window.scrollTo(0, document.body.scrollHeight)"
	case strings.Contains(desc, "middle"), strings.Contains(desc, "center"), strings.Contains(desc, "half"):
		return "window.scrollTo(0, document.body.scrollHeight / 2)"
	}
	if m := percentPattern.FindStringSubmatch(desc); m != nil {
		return fmt.Sprintf("window.scrollTo(0, document.body.scrollHeight * %s / 100)", m[1])
	}
	if strings.Contains(desc, "up") {
		return fmt.Sprintf("window.scrollBy(0, -%d)", scrollAmount(step))
	}
	return fmt.Sprintf("window.scrollBy(0, %d)", scrollAmount(step))
}

func scrollAmount(step models.ActionStep) int {
	if n, err := strconv.Atoi(step.Params["amount"]); err == nil && n > 0 {
		return n
	}
	if m := pixelPattern.FindStringSubmatch(stepText(step)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 600
}

// screenshotScrollScript returns a pre-screenshot scroll when the step's
// target names a page region; screenshots with no region capture the page
// as it stands.
func screenshotScrollScript(step models.ActionStep) (string, bool) {
	desc := stepText(step)
	switch {
	case strings.Contains(desc, "bottom"), strings.Contains(desc, "footer"):
		return "window.scrollTo(0, document.body.scrollHeight)", true
	case strings.Contains(desc, "middle"), strings.Contains(desc, "center"):
		return "window.scrollTo(0, document.body.scrollHeight / 2)", true
	case strings.Contains(desc, "section"):
		return "window.scrollBy(0, window.innerHeight)", true
	}
	if m := percentPattern.FindStringSubmatch(desc); m != nil {
		return fmt.Sprintf("window.scrollTo(0, document.body.scrollHeight * %s / 100)", m[1]), true
	}
	if m := pixelPattern.FindStringSubmatch(desc); m != nil {
		return fmt.Sprintf("window.scrollTo(0, %s)", m[1]), true
	}
	return "", false
}

// needsSelector reports whether an action drives a specific element.
func needsSelector(a models.Action) bool {
	switch a {
	case models.ActionClick, models.ActionType, models.ActionHover:
		return true
	}
	return false
}
