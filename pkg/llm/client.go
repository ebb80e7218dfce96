// Package llm provides the AI chat port used by the planner, reflector
// helpers, obstacle detector, and suggestion generator, plus concrete
// adapters for the supported providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// DefaultTemperature means "use the provider default". Callers that need a
// specific sampling temperature pass a positive value (obstacle detection
// uses 0.1, suggestion generation 0.3).
const DefaultTemperature float64 = -1

// ErrMissingAPIKey indicates the provider's API key env var is unset.
var ErrMissingAPIKey = errors.New("missing API key")

// Client is the single-capability chat port. Implementations must be safe
// for concurrent use; every call carries its own timeout via ctx.
type Client interface {
	// Call sends one system+user exchange and returns the assistant text.
	// temperature <= 0 uses the provider default.
	Call(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// NewClient builds a provider-backed chat client from configuration.
func NewClient(cfg *config.LLMProviderConfig) (Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: env %s is empty", ErrMissingAPIKey, cfg.APIKeyEnv)
		}
	}

	switch cfg.Type {
	case config.ProviderAnthropic:
		return newAnthropicClient(apiKey, cfg)
	case config.ProviderOpenAI:
		return newOpenAIClient(apiKey, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}
