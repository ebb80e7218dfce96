package obstacle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// FallbackExhaustedSentinel is added to the dismissed set once the
// consent-manager fallback pass has run for a step, so later iterations do
// not re-walk the same selectors.
const FallbackExhaustedSentinel = "__fallback_selectors_tried__"

// maxAttemptsPerType gives up on an obstacle type after this many dismiss
// attempts within one step; a banner that survives two rounds will survive
// a third.
const maxAttemptsPerType = 2

// Settle delays around a dismiss click: the first lets the page finish any
// in-flight mutation before the click, the second lets teardown animations
// finish before re-snapshot.
const (
	clickSettle  = 250 * time.Millisecond
	verifySettle = 500 * time.Millisecond
)

// Browser is the slice of bridge behavior the clearer drives.
type Browser interface {
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, script string) error
	Snapshot(ctx context.Context) (*models.DomSnapshot, error)
}

// Sleeper abstracts waiting so tests run without real delays. Sleep returns
// early with the context error on cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clearer runs the detect, dismiss, verify loop for one test run. It keeps
// the run-scoped monotonic set of dismissed types; attempt counts are scoped
// to a single Clear call. Not safe for concurrent use; each run owns its
// own Clearer.
type Clearer struct {
	detector *Detector
	browser  Browser
	sleeper  Sleeper
	maxLoops int
	logger   *slog.Logger

	dismissedTypes []string
	dismissedSet   map[string]bool
}

func NewClearer(detector *Detector, browser Browser, sleeper Sleeper, maxLoops int) *Clearer {
	return &Clearer{
		detector:     detector,
		browser:      browser,
		sleeper:      sleeper,
		maxLoops:     maxLoops,
		logger:       slog.Default(),
		dismissedSet: make(map[string]bool),
	}
}

// DismissedTypes returns the monotonic dismissed set, sentinel included.
func (c *Clearer) DismissedTypes() []string {
	out := make([]string, len(c.dismissedTypes))
	copy(out, c.dismissedTypes)
	return out
}

func (c *Clearer) markDismissed(t string) {
	if c.dismissedSet[t] {
		return
	}
	c.dismissedSet[t] = true
	c.dismissedTypes = append(c.dismissedTypes, t)
}

// Clear detects and dismisses obstacles until the page is clear or the
// attempt budgets run out. It returns audit steps for every dismissal so
// the run log shows what was clicked on the user's behalf. Detection errors
// propagate; a page that cannot be inspected cannot be safely driven.
//
// Attempt counts are local to this call. Whatever was attempted is folded
// into the dismissed set on every exit, so the detector stops reporting
// types this run has already fought with.
func (c *Clearer) Clear(ctx context.Context, snapshot *models.DomSnapshot) (audit []models.ExecutedStep, err error) {
	attempts := make(map[string]int)
	defer func() {
		for t := range attempts {
			c.markDismissed(t)
		}
	}()

	// pending is the type clicked in the previous iteration, awaiting
	// verification: it counts as dismissed only once detection stops
	// reporting it.
	pending := ""

	for i := 0; i < c.maxLoops; i++ {
		info, derr := c.detector.Detect(ctx, snapshot, c.dismissedTypes)
		if derr != nil {
			return audit, derr
		}

		if pending != "" && (info == nil || info.Type != pending) {
			c.markDismissed(pending)
			pending = ""
		}

		if info == nil {
			// The model sees nothing, but consent iframes and shadow DOM
			// often hide from snapshots. One fallback pass per step.
			if c.dismissedSet[FallbackExhaustedSentinel] {
				return audit, nil
			}
			c.markDismissed(FallbackExhaustedSentinel)
			sel, ferr := c.fallbackPass(ctx)
			if ferr != nil || sel == "" {
				return audit, nil
			}
			audit = append(audit, dismissAuditStep("consent_fallback", sel, true,
				"auto-dismissed via consent fallback selector"))
			if snapshot, err = c.settleAndSnapshot(ctx); err != nil {
				return audit, err
			}
			continue
		}

		if c.dismissedSet[info.Type] {
			// Already handled this run; a re-report is the model echoing
			// stale markup, not a new obstacle.
			return audit, nil
		}

		// A low-confidence report is treated as a false positive only once
		// an attempt has been burned on the type; the first sighting gets
		// one real attempt.
		if info.Confidence == models.ConfidenceLow && attempts[info.Type] > 0 {
			c.logger.Info("Treating repeat low-confidence obstacle as false positive",
				"type", info.Type, "description", info.Description)
			return audit, nil
		}

		if attempts[info.Type] >= maxAttemptsPerType {
			c.logger.Warn("Giving up on persistent obstacle",
				"type", info.Type, "attempts", attempts[info.Type])
			c.markDismissed(info.Type)
			pending = ""
			continue
		}

		attemptNo := attempts[info.Type]
		attempts[info.Type]++

		if err = c.sleeper.Sleep(ctx, clickSettle); err != nil {
			return audit, err
		}
		clickErr := c.dismissClick(ctx, info, attemptNo)
		if clickErr != nil {
			c.logger.Debug("Dismiss click failed",
				"type", info.Type, "attempt", attemptNo+1, "error", clickErr)
			audit = append(audit, dismissAuditStep(info.Type, info.DismissSelector, false,
				fmt.Sprintf("dismiss click failed: %v", clickErr)))
			pending = ""
		} else {
			audit = append(audit, dismissAuditStep(info.Type, info.DismissSelector, true,
				fmt.Sprintf("clicked to dismiss %s", info.Type)))
			pending = info.Type
		}

		if snapshot, err = c.settleAndSnapshot(ctx); err != nil {
			return audit, err
		}
	}
	return audit, nil
}

// dismissClick drives one dismiss attempt. The first attempt uses a native
// click; subsequent attempts dispatch through JS, which reaches elements
// under intercepting layers that break native hit testing.
func (c *Clearer) dismissClick(ctx context.Context, info *models.ObstacleInfo, attemptNo int) error {
	if attemptNo == 0 && info.DismissSelector != "" {
		return c.browser.Click(ctx, info.DismissSelector)
	}
	if info.DismissSelector == "" && info.DismissText == "" {
		return fmt.Errorf("obstacle %s carries no dismiss selector or text", info.Type)
	}
	return c.browser.Evaluate(ctx, jsClickScript(info.DismissSelector, info.DismissText))
}

func (c *Clearer) settleAndSnapshot(ctx context.Context) (*models.DomSnapshot, error) {
	if err := c.sleeper.Sleep(ctx, verifySettle); err != nil {
		return nil, err
	}
	snap, err := c.browser.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("post-dismiss snapshot: %w", err)
	}
	return snap, nil
}

// fallbackPass walks the consent-manager selector list with a rendered-only
// guard, clicking the first selector whose element is actually visible.
// Returns the selector that clicked, or "" when none matched.
func (c *Clearer) fallbackPass(ctx context.Context) (string, error) {
	for _, sel := range fallbackSelectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.browser.Evaluate(ctx, fallbackClickScript(sel)); err != nil {
			continue
		}
		c.logger.Info("Consent fallback selector clicked", "selector", sel)
		return sel, nil
	}
	return "", nil
}

// TryConsentFallback walks the consent-manager selector list for a deferred
// consent-target resolution, native click first and JS click on failure.
// Returns the selector that worked.
func (c *Clearer) TryConsentFallback(ctx context.Context, targetText string) (string, error) {
	for _, sel := range fallbackSelectors {
		if err := c.clickBothModes(ctx, sel); err == nil {
			c.logger.Info("Consent fallback selector worked",
				"target", targetText, "selector", sel)
			return sel, nil
		}
	}
	c.markDismissed(FallbackExhaustedSentinel)
	return "", fmt.Errorf("no consent fallback selector matched %q", targetText)
}

func (c *Clearer) clickBothModes(ctx context.Context, selector string) error {
	nativeErr := c.browser.Click(ctx, selector)
	if nativeErr == nil {
		return c.sleeper.Sleep(ctx, clickSettle)
	}
	if err := c.browser.Evaluate(ctx, jsClickScript(selector, "")); err != nil {
		return fmt.Errorf("native click: %v; js click: %w", nativeErr, err)
	}
	return c.sleeper.Sleep(ctx, clickSettle)
}

func dismissAuditStep(obstacleType, selector string, success bool, reason string) models.ExecutedStep {
	disposition := models.StepSuccess
	if !success {
		disposition = models.StepFailed
	}
	return models.ExecutedStep{
		Step: models.ActionStep{
			ID:     uuid.NewString(),
			Action: models.ActionAutoDismiss,
			Target: obstacleType,
		},
		SelectorUsed: selector,
		Disposition:  disposition,
		Reason:       reason,
		Timestamp:    time.Now(),
	}
}

// jsClickScript builds the evaluate payload for a JS-dispatched dismiss
// click: the selector first, then a text match over clickable elements when
// the selector misses. Throws when nothing matched so Evaluate surfaces the
// failure as an error.
func jsClickScript(selector, dismissText string) string {
	return fmt.Sprintf(`(() => {
  let el = null;
  try { el = document.querySelector(%q); } catch (e) {}
  if (el) { el.click(); return "clicked"; }
  const text = %q.trim().toLowerCase();
  if (text) {
    const candidates = document.querySelectorAll('button, [role="button"], a, input[type="submit"]');
    for (const c of candidates) {
      const label = (c.innerText || c.value || "").trim().toLowerCase();
      if (label && (label === text || label.includes(text))) {
        c.click();
        return "clicked by text";
      }
    }
  }
  throw new Error("not found");
})()`, selector, dismissText)
}

// fallbackClickScript clicks a consent selector only when its element is
// actually rendered; offsetParent is null for hidden or detached nodes.
// Throws otherwise so the fallback walk moves to the next selector.
func fallbackClickScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (el && el.offsetParent !== null) { el.click(); return "clicked"; }
  throw new Error("not visible");
})()`, selector)
}
