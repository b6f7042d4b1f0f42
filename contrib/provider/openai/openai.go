package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/esg-rag/llm"
)

// Config holds OpenAI provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

// Provider implements llm.Generator with the chat completions API.
type Provider struct {
	config Config
	client openaisdk.Client
}

var _ llm.Generator = (*Provider)(nil)

// New creates a new OpenAI provider using official SDK
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openaisdk.NewClient(opts...),
	}
}

// Complete sends a system and user message and returns the first choice.
func (p *Provider) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(p.config.Model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(llm.SystemOrDefault(systemPrompt)),
			openaisdk.UserMessage(prompt),
		},
		Temperature: param.NewOpt(p.config.Temperature),
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
