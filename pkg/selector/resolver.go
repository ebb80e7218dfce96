package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/models"
)

// ConsentFallbackPrefix marks a deferred resolution: the target looks like
// a consent-layer control, so instead of a selector the resolver hands the
// executor a sentinel carrying the target text. The obstacle machinery
// tries its known consent-manager selectors before any model call.
const ConsentFallbackPrefix = "CONSENT_FALLBACK:"

// consentKeywords flag targets that typically live inside consent layers,
// where model-resolved selectors are least reliable (shadow DOM, iframes,
// vendor-specific markup).
var consentKeywords = []string{"consent", "cookie", "accept", "agree", "privacy", "gdpr"}

const resolvePrompt = `You map a described UI element to a CSS selector using an accessibility snapshot.
Respond with JSON only: {"selector": "<css selector>"}.
Prefer stable attributes (id, data-testid, aria-label) over positional paths.`

// Resolver turns a step's target description into a concrete selector:
// explicit selector first, then cache, then consent sentinel, then model.
type Resolver struct {
	cache  *SmartDriver
	client llm.Client
	logger *slog.Logger
}

func NewResolver(cache *SmartDriver, client llm.Client) *Resolver {
	return &Resolver{cache: cache, client: client, logger: slog.Default()}
}

// Resolve produces the selector the executor should drive for a step.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, step models.ActionStep, snapshot *models.DomSnapshot) (string, error) {
	if step.Selector != "" {
		return step.Selector, nil
	}
	if strings.TrimSpace(step.Target) == "" {
		return "", fmt.Errorf("step %s has neither selector nor target", step.ID)
	}

	host := snapshotHost(snapshot)
	if sel, ok := r.cache.Lookup(tenantID, step.Target, host); ok {
		r.logger.Debug("Selector cache hit", "target", step.Target, "host", host)
		return sel, nil
	}

	if IsConsentTarget(step.Target) {
		return ConsentFallbackPrefix + step.Target, nil
	}

	sel, err := r.resolveWithModel(ctx, step.Target, snapshot)
	if err != nil {
		return "", err
	}
	r.cache.Store(tenantID, step.Target, host, sel)
	return sel, nil
}

// RecordOutcome feeds an execution result back into the cache. Sentinel
// resolutions are not cached and are skipped.
func (r *Resolver) RecordOutcome(tenantID string, step models.ActionStep, snapshot *models.DomSnapshot, selector string, success bool) {
	if strings.HasPrefix(selector, ConsentFallbackPrefix) {
		return
	}
	r.cache.RecordOutcome(tenantID, step.Target, snapshotHost(snapshot), success)
}

func (r *Resolver) resolveWithModel(ctx context.Context, target string, snapshot *models.DomSnapshot) (string, error) {
	content := ""
	if snapshot != nil {
		content = snapshot.Content
	}
	user := fmt.Sprintf("Element description: %s\n\nPage snapshot:\n%s", target, content)

	raw, err := r.client.Call(ctx, resolvePrompt, user, 0.0)
	if err != nil {
		return "", fmt.Errorf("selector resolution for %q: %w", target, err)
	}

	var parsed struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return "", fmt.Errorf("selector response parse for %q: %w", target, err)
	}
	if strings.TrimSpace(parsed.Selector) == "" {
		return "", fmt.Errorf("model returned empty selector for %q", target)
	}
	return parsed.Selector, nil
}

// IsConsentTarget reports whether a target description names a consent-layer
// control.
func IsConsentTarget(target string) bool {
	lower := strings.ToLower(target)
	for _, kw := range consentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func snapshotHost(snapshot *models.DomSnapshot) string {
	if snapshot == nil || snapshot.URL == "" {
		return ""
	}
	u, err := url.Parse(snapshot.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
