package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigDir(t *testing.T, mainYAML, providersYAML string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uiprobe.yaml"), []byte(mainYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  anthropic-default:
    type: anthropic
    model: claude-sonnet-4-5
    api_key_env: TEST_ANTHROPIC_KEY
`

func TestInitialize_MergesUserOverDefaults(t *testing.T) {
	dir := writeConfigDir(t, `
runner:
  max_retries: 5
  test_timeout: 10m
limits:
  max_per_user: 2
bridge:
  command: test-bridge
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// User values override.
	assert.Equal(t, 5, cfg.Runner.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.Runner.TestTimeout)
	assert.Equal(t, 2, cfg.Limits.MaxPerUser)
	assert.Equal(t, "test-bridge", cfg.Bridge.Command)

	// Unset values keep defaults.
	assert.Equal(t, 50, cfg.Runner.MaxLoopIterations)
	assert.Equal(t, 50, cfg.Limits.MaxGlobal)
	assert.Equal(t, 15000, cfg.Prompt.MaxTotalLength)
	assert.Equal(t, "chromium", cfg.Bridge.Engine)

	require.True(t, cfg.LLMProviderRegistry.Has("anthropic-default"))
	provider, err := cfg.GetLLMProvider("anthropic-default")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider.Type)
	assert.Equal(t, "claude-sonnet-4-5", provider.Model)
}

func TestInitialize_SecurityExplicitFalseWins(t *testing.T) {
	// Boolean protections default on; an explicit false must not be
	// swallowed by the merge.
	dir := writeConfigDir(t, `
security:
  ssrf_protection: false
  self_domains: ["uiprobe.dev"]
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.False(t, cfg.Security.SSRFProtection)
	assert.True(t, cfg.Security.DNSRebindingProtection)
	assert.True(t, cfg.Security.ProductionProfile)
	assert.Equal(t, []string{"uiprobe.dev"}, cfg.Security.SelfDomains)
	assert.Contains(t, cfg.Security.BlockedTLDs, ".gov")
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BRIDGE_CMD", "/opt/bridge/run")
	dir := writeConfigDir(t, `
bridge:
  command: "{{.TEST_BRIDGE_CMD}}"
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "/opt/bridge/run", cfg.Bridge.Command)
}

func TestInitialize_MissingConfigFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "runner: [not: a: mapping", minimalProvidersYAML)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_RejectsInvalidValues(t *testing.T) {
	dir := writeConfigDir(t, `
runner:
  max_retries: -1
`, minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "runner", verr.Section)
	assert.Equal(t, "max_retries", verr.Field)
}

func TestInitialize_RejectsUnknownProviderType(t *testing.T) {
	dir := writeConfigDir(t, "", `
llm_providers:
  broken:
    type: cohere
    model: command-r
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}
