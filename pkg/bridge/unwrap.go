package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// ToolResult is the unwrapped outcome of a tools/call request.
//
// The bridge wraps every payload in an outer envelope:
//
//	{content: [{type: "text"|"image", ...}], logs: {console: [...], pageErrors: [...]}}
//
// For text content the actual result is the JSON nested inside
// content[0].text; storing the outer envelope instead of unwrapping it is a
// known regression (it yields empty performance metrics downstream).
type ToolResult struct {
	// Text is the raw nested payload for text content.
	Text string

	// Image is the decoded bytes for image content.
	Image []byte

	ConsoleLogs []string
	PageErrors  []string
}

// envelope mirrors the outer tools/call response shape.
type envelope struct {
	Content []contentItem `json:"content"`
	Logs    *toolLogs     `json:"logs,omitempty"`
	IsError bool          `json:"isError,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

type toolLogs struct {
	Console    []logLine `json:"console"`
	PageErrors []logLine `json:"pageErrors"`
}

// logLine tolerates both plain strings and structured log objects; objects
// are kept as their compact JSON form.
type logLine string

func (l *logLine) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = logLine(s)
		return nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	compact, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	*l = logLine(compact)
	return nil
}

// unwrapResult parses the outer envelope of a tools/call response.
func unwrapResult(raw json.RawMessage) (*ToolResult, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bridge envelope parse: %w", err)
	}
	if len(env.Content) == 0 {
		return nil, errors.New("bridge response has empty content")
	}

	result := &ToolResult{}
	if env.Logs != nil {
		result.ConsoleLogs = lines(env.Logs.Console)
		result.PageErrors = lines(env.Logs.PageErrors)
	}

	item := env.Content[0]
	switch item.Type {
	case "text":
		result.Text = item.Text
	case "image":
		decoded, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			return nil, fmt.Errorf("bridge image decode: %w", err)
		}
		result.Image = decoded
	default:
		return nil, fmt.Errorf("bridge content type %q not supported", item.Type)
	}

	if env.IsError {
		return result, fmt.Errorf("bridge tool error: %s", result.Text)
	}
	return result, nil
}

func lines(ls []logLine) []string {
	if len(ls) == 0 {
		return nil
	}
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = string(l)
	}
	return out
}

// snapshotPayload is the nested JSON a snapshot tool returns inside
// content[0].text.
type snapshotPayload struct {
	Content string `json:"content"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Mode    string `json:"mode,omitempty"`
}

// parseSnapshot decodes the nested snapshot payload into a DomSnapshot.
// Escape sequences in the nested JSON (\n, \t, \", \\) round-trip through
// the standard decoder.
func parseSnapshot(text string) (*models.DomSnapshot, error) {
	var payload snapshotPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("snapshot payload parse: %w", err)
	}
	return &models.DomSnapshot{
		Content:    payload.Content,
		URL:        payload.URL,
		Title:      payload.Title,
		CapturedAt: time.Now(),
	}, nil
}

// perfPayload is the nested JSON a get_performance_metrics tool returns.
type perfPayload struct {
	Success   bool `json:"success"`
	WebVitals struct {
		LCP  float64 `json:"lcp"`
		CLS  float64 `json:"cls"`
		FCP  float64 `json:"fcp"`
		TTFB float64 `json:"ttfb"`
	} `json:"webVitals"`
}

// ParsePerformanceMetrics decodes the nested web-vitals payload.
func ParsePerformanceMetrics(text string) (*models.PerformanceMetrics, error) {
	var payload perfPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("performance payload parse: %w", err)
	}
	return &models.PerformanceMetrics{
		LCP: payload.WebVitals.LCP,
		CLS: payload.WebVitals.CLS,
		FCP: payload.WebVitals.FCP,
		TTF: payload.WebVitals.TTFB,
	}, nil
}
