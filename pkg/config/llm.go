package config

import (
	"fmt"
	"sync"
)

// LLMProviderType identifies the chat backend implementation.
type LLMProviderType string

// Supported provider types.
const (
	ProviderAnthropic LLMProviderType = "anthropic"
	ProviderOpenAI    LLMProviderType = "openai"
)

// IsValid reports whether the provider type is supported.
func (t LLMProviderType) IsValid() bool {
	return t == ProviderAnthropic || t == ProviderOpenAI
}

// LLMProviderConfig defines a chat-backend provider.
type LLMProviderConfig struct {
	// Provider type (required).
	Type LLMProviderType `yaml:"type"`

	// Model name (required).
	Model string `yaml:"model"`

	// Environment variable name holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxTokens caps completion length; 0 uses the adapter default.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// LLMProviderRegistry stores provider configurations with thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a registry over a defensive copy of the map.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns a copy of all provider configurations.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks whether a provider exists in the registry.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Len returns the number of registered providers.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
