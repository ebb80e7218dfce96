package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/models"
)

func newTestPlanSanitizer() *PlanSanitizer {
	return NewPlanSanitizer(config.DefaultPromptConfig())
}

func TestSanitize_DropsBlankNavigate(t *testing.T) {
	s := newTestPlanSanitizer()
	steps := []models.ActionStep{
		{ID: "1", Action: models.ActionNavigate, Value: "https://example.com"},
		{ID: "2", Action: models.ActionNavigate, Value: "   "},
		{ID: "3", Action: models.ActionClick, Target: "buy button"},
	}

	out := s.Sanitize(steps)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "3", out[1].ID)
}

func TestSanitize_DropsOversizedType(t *testing.T) {
	s := newTestPlanSanitizer()
	steps := []models.ActionStep{
		{ID: "1", Action: models.ActionType, Target: "search box", Value: strings.Repeat("a", 1200)},
		{ID: "2", Action: models.ActionType, Target: "search box", Value: strings.Repeat("a", 1201)},
	}

	out := s.Sanitize(steps)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].ID)
}

func TestSanitize_Idempotent(t *testing.T) {
	s := newTestPlanSanitizer()
	steps := []models.ActionStep{
		{ID: "1", Action: models.ActionNavigate, Value: ""},
		{ID: "2", Action: models.ActionClick, Target: "link"},
		{ID: "3", Action: models.ActionType, Value: strings.Repeat("x", 5000)},
	}

	once := s.Sanitize(steps)
	twice := s.Sanitize(once)
	assert.Equal(t, once, twice)
}

func TestIsSafe_DomainRules(t *testing.T) {
	s := newTestPlanSanitizer()

	tests := []struct {
		name string
		url  string
		safe bool
	}{
		{"same domain", "https://shop.example.com/cart", true},
		{"subdomain", "https://checkout.shop.example.com/", true},
		{"relative path", "/products/42", true},
		{"www prefix", "https://www.shop.example.com/", true},
		{"other domain", "https://evil.com/", false},
		{"suffix trick", "https://notshop.example.com.evil.com/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := []models.ActionStep{
				{ID: "1", Action: models.ActionNavigate, Value: tt.url},
			}
			assert.Equal(t, tt.safe, s.IsSafe(steps, "shop.example.com"))
		})
	}
}

func TestIsSafe_IgnoresNonNavigateSteps(t *testing.T) {
	s := newTestPlanSanitizer()
	steps := []models.ActionStep{
		{ID: "1", Action: models.ActionClick, Target: "link to https://evil.com"},
	}
	assert.True(t, s.IsSafe(steps, "example.com"))
}

func TestValidatePromptSize(t *testing.T) {
	s := newTestPlanSanitizer()

	assert.NoError(t, s.ValidatePromptSize("https://example.com", "shopper", []string{"buy a thing"}))

	big := strings.Repeat("g", 15001)
	err := s.ValidatePromptSize("", "", []string{big})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	// Exactly at the cap passes; the limit is strict-greater.
	exact := strings.Repeat("g", 15000)
	assert.NoError(t, s.ValidatePromptSize("", "", []string{exact}))
}
