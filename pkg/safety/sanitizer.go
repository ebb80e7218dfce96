package safety

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/models"
)

// PlanSanitizer filters AI-generated step plans before execution. Sanitize
// is idempotent: running it over its own output removes nothing further.
type PlanSanitizer struct {
	cfg    *config.PromptConfig
	logger *slog.Logger
}

func NewPlanSanitizer(cfg *config.PromptConfig) *PlanSanitizer {
	return &PlanSanitizer{cfg: cfg, logger: slog.Default()}
}

// Sanitize drops steps that must never reach the browser: navigate steps
// with a blank URL and type steps whose value exceeds the input cap. Every
// removal is logged with the step ID and rule.
func (s *PlanSanitizer) Sanitize(steps []models.ActionStep) []models.ActionStep {
	out := make([]models.ActionStep, 0, len(steps))
	for _, step := range steps {
		switch {
		case step.Action == models.ActionNavigate && strings.TrimSpace(navigateURL(step)) == "":
			s.logger.Warn("Dropping navigate step with blank URL", "step_id", step.ID)
		case step.Action == models.ActionType && len(step.Value) > s.cfg.MaxInputLength:
			s.logger.Warn("Dropping type step with oversized value",
				"step_id", step.ID, "length", len(step.Value), "max", s.cfg.MaxInputLength)
		default:
			out = append(out, step)
		}
	}
	return out
}

// IsSafe verifies every navigate step stays on the approved domain.
// Relative URLs are always allowed; absolute URLs must have a host equal
// to or a subdomain of allowedDomain.
func (s *PlanSanitizer) IsSafe(steps []models.ActionStep, allowedDomain string) bool {
	allowed := NormalizeHost(allowedDomain)
	for _, step := range steps {
		if step.Action != models.ActionNavigate {
			continue
		}
		raw := strings.TrimSpace(navigateURL(step))
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			s.logger.Warn("Unparseable navigate URL in plan", "step_id", step.ID, "url", raw)
			return false
		}
		if u.Host == "" {
			continue // relative navigation stays on-site
		}
		host := NormalizeHost(u.Hostname())
		if host != allowed && !strings.HasSuffix(host, "."+allowed) {
			s.logger.Warn("Plan navigates off the approved domain",
				"step_id", step.ID, "host", host, "allowed", allowed)
			return false
		}
	}
	return true
}

// ValidatePromptSize rejects planning inputs whose combined size exceeds
// the total prompt cap before any model call is made.
func (s *PlanSanitizer) ValidatePromptSize(targetURL, persona string, goals []string) error {
	total := len(targetURL) + len(persona)
	for _, g := range goals {
		total += len(g)
	}
	if total > s.cfg.MaxTotalLength {
		return fmt.Errorf("planning input too large: %d chars exceeds cap of %d",
			total, s.cfg.MaxTotalLength)
	}
	return nil
}

// navigateURL returns the URL a navigate step carries. Plans put it in
// Value; older shapes used Target.
func navigateURL(step models.ActionStep) string {
	if step.Value != "" {
		return step.Value
	}
	return step.Target
}
