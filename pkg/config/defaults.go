package config

import "time"

// DefaultRunnerConfig returns runner defaults.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		MaxRetries:               3,
		MaxObstacleClearAttempts: 3,
		MaxLoopIterations:        50,
		TestTimeout:              30 * time.Minute,
		ContextRetries:           3,
	}
}

// DefaultLimitsConfig returns admission and rate-limit defaults.
func DefaultLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		MaxPerUser:    3,
		MaxGlobal:     50,
		UserPerMinute: 10,
		IPPerHour:     30,
		TargetPerHour: 100,
		SweepInterval: 5 * time.Minute,
		StaleAfter:    30 * time.Minute,
	}
}

// DefaultSecurityConfig returns target-guard defaults. SSRF and
// DNS-rebinding protection are on; self-test allowlisting is off.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		SSRFProtection:         true,
		DNSRebindingProtection: true,
		SelfTestEnabled:        false,
		ProductionProfile:      true,
		BlockedTLDs:            []string{".gov", ".mil", ".bank", ".internal", ".local"},
	}
}

// DefaultPromptConfig returns prompt-pipeline defaults.
func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		MaxInputLength:   1200,
		MaxContentLength: 50000,
		MaxTotalLength:   15000,
	}
}

// DefaultBridgeConfig returns bridge subprocess defaults.
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		Command:      "uiprobe-bridge",
		Engine:       "chromium",
		SnapshotMode: "aria",
		Headless:     true,
		CallTimeout:  90 * time.Second,
	}
}
