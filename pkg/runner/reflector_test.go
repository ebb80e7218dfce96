package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/safety"
)

// staticLLM returns one canned response for every call.
type staticLLM struct {
	response string
	err      error
	calls    int
}

func (s *staticLLM) Call(_ context.Context, _, _ string, _ float64) (string, error) {
	s.calls++
	return s.response, s.err
}

func newTestReflector(llmResponse string, llmErr error) (*Reflector, *staticLLM) {
	client := &staticLLM{response: llmResponse, err: llmErr}
	return NewReflector(client, safety.NewPromptSanitizer(config.DefaultPromptConfig())), client
}

func clickStep(target string) models.ActionStep {
	return models.ActionStep{ID: "s1", Action: models.ActionClick, Target: target, Selector: "#old"}
}

func reflectSnapshots() (*models.DomSnapshot, *models.DomSnapshot) {
	return &models.DomSnapshot{Content: "before", URL: "https://shop.example.com"},
		&models.DomSnapshot{Content: "after", URL: "https://shop.example.com"}
}

func TestReflect_Verdicts(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     models.Verdict
	}{
		{"success", `{"verdict": "success", "reason": "state already changed"}`, models.VerdictSuccess},
		{"retry", `{"verdict": "retry", "reason": "selector drift"}`, models.VerdictRetry},
		{"wait", `{"verdict": "wait", "reason": "spinner visible", "wait_ms": 2000}`, models.VerdictWait},
		{"abort", `{"verdict": "abort", "reason": "page gone"}`, models.VerdictAbort},
		{"skip", `{"verdict": "skip", "reason": "non-essential"}`, models.VerdictSkip},
		{"case tolerant", `{"verdict": " Retry ", "reason": "x"}`, models.VerdictRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestReflector(tt.response, nil)
			before, after := reflectSnapshots()
			result := r.Reflect(context.Background(), clickStep("checkout button"), "element not found", before, after)
			assert.Equal(t, tt.want, result.Verdict)
		})
	}
}

func TestReflect_ModelErrorDegradesToRetry(t *testing.T) {
	r, _ := newTestReflector("", errors.New("model down"))
	before, after := reflectSnapshots()

	result := r.Reflect(context.Background(), clickStep("checkout button"), "timeout", before, after)
	assert.Equal(t, models.VerdictRetry, result.Verdict)
	require.NotNil(t, result.RetryStep)
	// The stale selector is cleared so the retry re-resolves.
	assert.Empty(t, result.RetryStep.Selector)
	assert.Equal(t, "s1", result.RetryStep.ID)
}

func TestReflect_GarbageOutputDegradesToRetry(t *testing.T) {
	r, _ := newTestReflector("I think you should probably retry", nil)
	before, after := reflectSnapshots()

	result := r.Reflect(context.Background(), clickStep("checkout button"), "timeout", before, after)
	assert.Equal(t, models.VerdictRetry, result.Verdict)
}

func TestReflect_AbortDowngradedForOptionalStep(t *testing.T) {
	r, _ := newTestReflector(`{"verdict": "abort", "reason": "banner will not close"}`, nil)
	before, after := reflectSnapshots()

	result := r.Reflect(context.Background(), clickStep("accept cookie banner"), "not found", before, after)
	assert.Equal(t, models.VerdictSkip, result.Verdict)
	assert.Contains(t, result.Reason, "optional step")
}

func TestReflect_AbortKeptForEssentialStep(t *testing.T) {
	r, _ := newTestReflector(`{"verdict": "abort", "reason": "checkout removed"}`, nil)
	before, after := reflectSnapshots()

	result := r.Reflect(context.Background(), clickStep("checkout button"), "not found", before, after)
	assert.Equal(t, models.VerdictAbort, result.Verdict)
}

func TestVerify_NavigateDemandsLandingURL(t *testing.T) {
	r, client := newTestReflector("", nil)
	nav := models.ActionStep{ID: "nav", Action: models.ActionNavigate, Value: "https://shop.example.com"}

	landed := &models.DomSnapshot{Content: "home", URL: "https://shop.example.com"}
	result := r.Verify(nav, nil, landed, 0, 3)
	assert.Equal(t, models.VerdictSuccess, result.Verdict)

	blank := &models.DomSnapshot{Content: "", URL: ""}
	result = r.Verify(nav, nil, blank, 0, 3)
	assert.Equal(t, models.VerdictRetry, result.Verdict)
	require.NotNil(t, result.RetryStep)
	assert.Equal(t, "nav", result.RetryStep.ID)
	// A settle wait runs ahead of the retried navigation.
	require.Len(t, result.RepairSteps, 1)
	assert.Equal(t, models.ActionWait, result.RepairSteps[0].Action)
	assert.Equal(t, "2000", result.RepairSteps[0].Value)

	// No model call is involved in verification.
	assert.Zero(t, client.calls)
}

func TestVerify_ClickDemandsDomChange(t *testing.T) {
	r, _ := newTestReflector("", nil)
	step := clickStep("add to cart")
	before := &models.DomSnapshot{Content: "cart empty", URL: "https://shop.example.com"}

	changed := &models.DomSnapshot{Content: "cart has 1 item", URL: "https://shop.example.com"}
	result := r.Verify(step, before, changed, 0, 3)
	assert.Equal(t, models.VerdictSuccess, result.Verdict)

	same := &models.DomSnapshot{Content: "cart empty", URL: "https://shop.example.com"}
	result = r.Verify(step, before, same, 0, 3)
	assert.Equal(t, models.VerdictWait, result.Verdict)
	assert.Equal(t, 1000, result.WaitMs)

	// Change-free clicks are tolerated once the retry budget is spent;
	// some clicks only fire analytics.
	result = r.Verify(step, before, same, 3, 3)
	assert.Equal(t, models.VerdictSuccess, result.Verdict)
}

func TestVerify_OtherActionsAlwaysPass(t *testing.T) {
	r, _ := newTestReflector("", nil)
	before, after := reflectSnapshots()
	for _, action := range []models.Action{
		models.ActionType, models.ActionWait, models.ActionScreenshot,
		models.ActionScroll, models.ActionMeasurePerformance,
	} {
		result := r.Verify(models.ActionStep{ID: "s", Action: action}, before, after, 0, 3)
		assert.Equal(t, models.VerdictSuccess, result.Verdict, "action %s", action)
	}
}

func TestParseReflection_RetryWithSelectorAndRepairs(t *testing.T) {
	raw := `{"verdict": "retry", "reason": "use data-testid",
	         "selector": "[data-testid='buy']",
	         "repair_steps": [{"action": "WAIT", "value": "500"}]}`

	result, err := parseReflection(raw, clickStep("buy button"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRetry, result.Verdict)
	require.NotNil(t, result.RetryStep)
	assert.Equal(t, "[data-testid='buy']", result.RetryStep.Selector)
	assert.Equal(t, "s1", result.RetryStep.ID)
	require.Len(t, result.RepairSteps, 1)
	assert.Equal(t, models.ActionWait, result.RepairSteps[0].Action)
	assert.NotEmpty(t, result.RepairSteps[0].ID)
	assert.NotEqual(t, "s1", result.RepairSteps[0].ID)
}

func TestParseReflection_RetryWithoutSelectorClearsStale(t *testing.T) {
	result, err := parseReflection(`{"verdict": "retry", "reason": "re-resolve"}`, clickStep("buy"))
	require.NoError(t, err)
	require.NotNil(t, result.RetryStep)
	assert.Empty(t, result.RetryStep.Selector)
}

func TestParseReflection_WaitClamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"default", `{"verdict": "wait"}`, 1000},
		{"negative", `{"verdict": "wait", "wait_ms": -5}`, 1000},
		{"in range", `{"verdict": "wait", "wait_ms": 2500}`, 2500},
		{"clamped", `{"verdict": "wait", "wait_ms": 600000}`, maxWaitMs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseReflection(tt.raw, clickStep("x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.WaitMs)
		})
	}
}

func TestParseReflection_FencedOutput(t *testing.T) {
	result, err := parseReflection("```json\n{\"verdict\": \"skip\", \"reason\": \"ad\"}\n```", clickStep("x"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictSkip, result.Verdict)
}

func TestParseReflection_UnknownVerdict(t *testing.T) {
	_, err := parseReflection(`{"verdict": "shrug"}`, clickStep("x"))
	assert.Error(t, err)
}

func TestIsOptionalStep(t *testing.T) {
	tests := []struct {
		target string
		value  string
		want   bool
	}{
		{"Accept Cookies button", "", true},
		{"the GDPR consent layer", "", true},
		{"newsletter signup popup close", "", true},
		{"chat-widget minimize", "", true},
		{"", "dismiss the overlay", true},
		{"checkout button", "", false},
		{"search field", "running shoes", false},
	}

	for _, tt := range tests {
		t.Run(tt.target+tt.value, func(t *testing.T) {
			s := models.ActionStep{Target: tt.target, Value: tt.value}
			assert.Equal(t, tt.want, IsOptionalStep(s))
		})
	}
}
