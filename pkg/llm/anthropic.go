package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// defaultMaxTokens caps completions when the provider config does not set
// one. Plans and reflections are short; 4k leaves ample headroom.
const defaultMaxTokens = 4096

// anthropicClient implements Client on the Anthropic Messages API.
type anthropicClient struct {
	messages  *sdk.MessageService
	model     string
	maxTokens int64
}

func newAnthropicClient(apiKey string, cfg *config.LLMProviderConfig) (*anthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	ac := sdk.NewClient(opts...)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicClient{
		messages:  &ac.Messages,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

// Call issues a non-streaming Messages.New request and concatenates the
// returned text blocks.
func (c *anthropicClient) Call(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: c.maxTokens,
		Model:     sdk.Model(c.model),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
