package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// UIProbeYAMLConfig represents the complete uiprobe.yaml file structure.
type UIProbeYAMLConfig struct {
	Runner   *RunnerConfig   `yaml:"runner"`
	Limits   *LimitsConfig   `yaml:"limits"`
	Security *securityYAML   `yaml:"security"`
	Prompt   *PromptConfig   `yaml:"prompt"`
	Bridge   *BridgeConfig   `yaml:"bridge"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Merge user config over built-in defaults
//  4. Build the provider registry
//  5. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"llm_providers", cfg.LLMProviderRegistry.Len(),
		"test_timeout", cfg.Runner.TestTimeout,
		"max_global", cfg.Limits.MaxGlobal)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	mainCfg, err := loader.loadMainYAML()
	if err != nil {
		return nil, NewLoadError("uiprobe.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// Merge user YAML over built-in defaults (non-zero values override).
	runner := DefaultRunnerConfig()
	if mainCfg.Runner != nil {
		if err := mergo.Merge(runner, mainCfg.Runner, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge runner config: %w", err)
		}
	}
	limits := DefaultLimitsConfig()
	if mainCfg.Limits != nil {
		if err := mergo.Merge(limits, mainCfg.Limits, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge limits config: %w", err)
		}
	}
	prompt := DefaultPromptConfig()
	if mainCfg.Prompt != nil {
		if err := mergo.Merge(prompt, mainCfg.Prompt, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge prompt config: %w", err)
		}
	}
	bridge := DefaultBridgeConfig()
	if mainCfg.Bridge != nil {
		if err := mergo.Merge(bridge, mainCfg.Bridge, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge bridge config: %w", err)
		}
	}

	// Security is resolved field-by-field: boolean protections default ON,
	// and mergo cannot distinguish "false" from "unset".
	security := resolveSecurityConfig(mainCfg.Security)

	return &Config{
		configDir:           configDir,
		Runner:              runner,
		Limits:              limits,
		Security:            security,
		Prompt:              prompt,
		Bridge:              bridge,
		LLMProviderRegistry: NewLLMProviderRegistry(llmProviders),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadMainYAML() (*UIProbeYAMLConfig, error) {
	var config UIProbeYAMLConfig
	if err := l.loadYAML("uiprobe.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]*LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig
	config.LLMProviders = make(map[string]*LLMProviderConfig)
	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}
	return config.LLMProviders, nil
}

// securityYAML mirrors SecurityConfig with pointer booleans so "unset" is
// distinguishable from an explicit false.
type securityYAML struct {
	SSRFProtection         *bool    `yaml:"ssrf_protection"`
	DNSRebindingProtection *bool    `yaml:"dns_rebinding_protection"`
	SelfTestEnabled        *bool    `yaml:"self_test_enabled"`
	ProductionProfile      *bool    `yaml:"production_profile"`
	SelfDomains            []string `yaml:"self_domains"`
	Allowlist              []string `yaml:"allowlist"`
	BlockedTLDs            []string `yaml:"blocked_tlds"`
	BlockedDomains         []string `yaml:"blocked_domains"`
}

func resolveSecurityConfig(user *securityYAML) *SecurityConfig {
	cfg := DefaultSecurityConfig()
	if user == nil {
		return cfg
	}
	if user.SSRFProtection != nil {
		cfg.SSRFProtection = *user.SSRFProtection
	}
	if user.DNSRebindingProtection != nil {
		cfg.DNSRebindingProtection = *user.DNSRebindingProtection
	}
	if user.SelfTestEnabled != nil {
		cfg.SelfTestEnabled = *user.SelfTestEnabled
	}
	if user.ProductionProfile != nil {
		cfg.ProductionProfile = *user.ProductionProfile
	}
	if len(user.SelfDomains) > 0 {
		cfg.SelfDomains = user.SelfDomains
	}
	if len(user.Allowlist) > 0 {
		cfg.Allowlist = user.Allowlist
	}
	if len(user.BlockedTLDs) > 0 {
		cfg.BlockedTLDs = user.BlockedTLDs
	}
	if len(user.BlockedDomains) > 0 {
		cfg.BlockedDomains = user.BlockedDomains
	}
	return cfg
}
