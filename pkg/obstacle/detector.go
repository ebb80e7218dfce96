// Package obstacle detects and clears page overlays that block test steps:
// cookie banners, consent dialogs, newsletter modals, chat widgets.
package obstacle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/models"
)

// detectTemperature keeps detection near-deterministic while leaving room
// to describe unfamiliar overlay markup.
const detectTemperature = 0.1

const detectPrompt = `You detect overlays that block interaction with a web page: cookie banners,
consent dialogs, newsletter signups, chat widgets, app-install prompts.
Given an accessibility snapshot, respond with JSON only:
  {"obstacle": {"type": "...", "description": "...", "dismiss_selector": "...", "dismiss_text": "...", "confidence": "high"|"medium"|"low"}}
or, when nothing blocks interaction:
  {"obstacle": null}
The type is a short stable identifier like "cookie_banner" or "newsletter_modal".
The dismiss_selector must be a plain CSS selector for the dismiss/accept control.`

// Detector asks the model whether an overlay currently blocks the page.
type Detector struct {
	client llm.Client
}

func NewDetector(client llm.Client) *Detector {
	return &Detector{client: client}
}

// Detect returns the blocking obstacle, or nil when the page is clear.
// Types already dismissed this run are passed along so the detector does
// not re-report an overlay that re-rendered during teardown animation.
func (d *Detector) Detect(ctx context.Context, snapshot *models.DomSnapshot, dismissedTypes []string) (*models.ObstacleInfo, error) {
	if snapshot == nil {
		return nil, nil
	}

	var b strings.Builder
	if len(dismissedTypes) > 0 {
		fmt.Fprintf(&b, "Already dismissed this run (do not report again): %s\n\n",
			strings.Join(dismissedTypes, ", "))
	}
	fmt.Fprintf(&b, "Page: %s (%s)\n\nSnapshot:\n%s", snapshot.Title, snapshot.URL, snapshot.Content)

	raw, err := d.client.Call(ctx, detectPrompt, b.String(), detectTemperature)
	if err != nil {
		return nil, fmt.Errorf("obstacle detection: %w", err)
	}

	var parsed struct {
		Obstacle *struct {
			Type            string `json:"type"`
			Description     string `json:"description"`
			DismissSelector string `json:"dismiss_selector"`
			DismissText     string `json:"dismiss_text"`
			Confidence      string `json:"confidence"`
		} `json:"obstacle"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("obstacle detection parse: %w", err)
	}
	if parsed.Obstacle == nil || parsed.Obstacle.Type == "" {
		return nil, nil
	}

	confidence := models.ObstacleConfidence(parsed.Obstacle.Confidence)
	switch confidence {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
	default:
		confidence = models.ConfidenceLow
	}

	return &models.ObstacleInfo{
		Type:            parsed.Obstacle.Type,
		Description:     parsed.Obstacle.Description,
		DismissSelector: SanitizeSelector(parsed.Obstacle.DismissSelector),
		DismissText:     parsed.Obstacle.DismissText,
		Confidence:      confidence,
	}, nil
}
