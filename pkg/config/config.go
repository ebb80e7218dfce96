// Package config loads and validates uiprobe configuration from YAML files
// with environment-variable template expansion.
package config

import (
	"time"
)

// Config is the umbrella configuration object returned by Initialize and
// passed to every subsystem.
type Config struct {
	configDir string

	Runner   *RunnerConfig
	Limits   *LimitsConfig
	Security *SecurityConfig
	Prompt   *PromptConfig
	Bridge   *BridgeConfig

	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// RunnerConfig controls the per-run execution loop.
type RunnerConfig struct {
	// MaxRetries is the reflector retry ceiling per step ID.
	MaxRetries int `yaml:"max_retries"`

	// MaxObstacleClearAttempts bounds detect→dismiss iterations per step.
	MaxObstacleClearAttempts int `yaml:"max_obstacle_clear_attempts"`

	// MaxLoopIterations is the global iteration safety net per run.
	MaxLoopIterations int `yaml:"max_loop_iterations"`

	// TestTimeout is the wall-clock deadline per run.
	TestTimeout time.Duration `yaml:"test_timeout"`

	// ContextRetries is the browser-context acquisition retry budget.
	ContextRetries int `yaml:"context_retries"`

	// DefaultLLMProvider names the provider used when a run does not pick one.
	DefaultLLMProvider string `yaml:"default_llm_provider"`
}

// LimitsConfig holds the admission caps and rate-limit windows.
type LimitsConfig struct {
	MaxPerUser int `yaml:"max_per_user"`
	MaxGlobal  int `yaml:"max_global"`

	UserPerMinute int `yaml:"user_per_minute"`
	IPPerHour     int `yaml:"ip_per_hour"`
	TargetPerHour int `yaml:"target_per_hour"`

	// SweepInterval is how often stale admission entries and idle rate
	// buckets are reaped.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// StaleAfter is the age past which an acquired concurrency slot is
	// considered leaked and reaped.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// SecurityConfig controls the target guard.
type SecurityConfig struct {
	SSRFProtection         bool `yaml:"ssrf_protection"`
	DNSRebindingProtection bool `yaml:"dns_rebinding_protection"`
	SelfTestEnabled        bool `yaml:"self_test_enabled"`
	ProductionProfile      bool `yaml:"production_profile"`

	// SelfDomains are always rejected, including subdomains. Never
	// bypassable by the allowlist.
	SelfDomains []string `yaml:"self_domains"`

	// Allowlist applies only under self-test mode.
	Allowlist []string `yaml:"allowlist"`

	BlockedTLDs    []string `yaml:"blocked_tlds"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// PromptConfig holds the prompt-pipeline length caps.
type PromptConfig struct {
	// MaxInputLength drops planned `type` values longer than this.
	MaxInputLength int `yaml:"max_input_length"`

	// MaxContentLength truncates untrusted text fed to the AI.
	MaxContentLength int `yaml:"max_content_length"`

	// MaxTotalLength rejects planner input above this total size.
	MaxTotalLength int `yaml:"max_total_length"`
}

// BridgeConfig configures the browser bridge subprocess.
type BridgeConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Engine selects the browser engine passed at initialize.
	Engine string `yaml:"engine"`

	// SnapshotMode selects the snapshot representation (aria by default).
	SnapshotMode string `yaml:"snapshot_mode"`

	Headless bool `yaml:"headless"`

	// CallTimeout is the per-request deadline on the wire.
	CallTimeout time.Duration `yaml:"call_timeout"`
}
