package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// openaiClient implements Client on the OpenAI Chat Completions API.
type openaiClient struct {
	client sdk.Client
	model  string
}

func newOpenAIClient(apiKey string, cfg *config.LLMProviderConfig) (*openaiClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiClient{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Call issues a single chat completion and returns the first choice's text.
func (c *openaiClient) Call(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, sdk.UserMessage(userPrompt))

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: messages,
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
