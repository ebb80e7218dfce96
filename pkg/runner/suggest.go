package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/models"
)

// suggestTemperature allows some variety; suggestions are advisory text,
// not executed.
const suggestTemperature = 0.3

const suggestPrompt = `You review completed browser test steps and suggest UX or performance
improvements for the page under test. Respond with one short suggestion as
plain text, or the single word NONE when nothing stands out.`

// Suggester produces optional per-step optimization notes after a step
// succeeds. Failures here never affect the run; the suggestion stays empty.
type Suggester struct {
	client llm.Client
	logger *slog.Logger
}

func NewSuggester(client llm.Client) *Suggester {
	return &Suggester{client: client, logger: slog.Default()}
}

// Suggest returns an advisory note for an executed step, or "".
func (s *Suggester) Suggest(ctx context.Context, step models.ExecutedStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\nTarget: %s\nDuration: %s\n",
		step.Step.Action, step.Step.Target, step.Duration)
	if step.Performance != nil {
		fmt.Fprintf(&b, "Web vitals: LCP=%.0fms CLS=%.3f FCP=%.0fms TTFB=%.0fms\n",
			step.Performance.LCP, step.Performance.CLS, step.Performance.FCP, step.Performance.TTF)
	}
	if len(step.PageErrors) > 0 {
		fmt.Fprintf(&b, "Page errors: %s\n", strings.Join(step.PageErrors, "; "))
	}

	raw, err := s.client.Call(ctx, suggestPrompt, b.String(), suggestTemperature)
	if err != nil {
		s.logger.Debug("Suggestion call failed", "step_id", step.Step.ID, "error", err)
		return ""
	}
	text := strings.TrimSpace(raw)
	if strings.EqualFold(text, "NONE") {
		return ""
	}
	return text
}
