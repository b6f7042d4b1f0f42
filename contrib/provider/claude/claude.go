package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/esg-rag/llm"
)

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig() Config {
	return Config{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

// Provider implements llm.Generator with the Messages API.
type Provider struct {
	config Config
	client anthropic.Client
}

var _ llm.Generator = (*Provider)(nil)

// New creates a new Claude provider using official SDK
func New(config Config) *Provider {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithAuthToken(""),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(opts...),
	}
}

// Complete sends prompt as a single user turn and joins the text blocks.
func (p *Provider) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.config.Model),
		MaxTokens:   p.config.MaxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		System:      []anthropic.TextBlockParam{{Text: llm.SystemOrDefault(systemPrompt)}},
		Temperature: param.NewOpt(p.config.Temperature),
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	var b strings.Builder
	for _, content := range msg.Content {
		if content.Type == "text" {
			b.WriteString(content.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
