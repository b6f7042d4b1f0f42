package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/esg-rag/llm"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig() Config {
	return Config{
		Model:       "gemini-1.5-flash",
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

// Provider implements llm.Generator with the Gemini SDK.
type Provider struct {
	config Config
	client *genai.Client
}

var _ llm.Generator = (*Provider)(nil)

// New creates a Gemini provider. Close releases the client.
func New(ctx context.Context, config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Complete generates a single candidate and concatenates its text parts.
func (p *Provider) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	model := p.client.GenerativeModel(p.config.Model)
	model.SetTemperature(p.config.Temperature)
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(llm.SystemOrDefault(systemPrompt))},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("Gemini API returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
