package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sweetpotato0/esg-rag/llm"
)

const cohereAPIURL = "https://api.cohere.ai/v1/chat"

// Config holds Cohere provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns default Cohere configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:     cohereAPIURL,
		Model:       "command-r",
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

// Provider implements llm.Generator against the Cohere chat endpoint.
type Provider struct {
	config Config
	client *http.Client
}

var _ llm.Generator = (*Provider)(nil)

// New creates a new Cohere provider
func New(config Config, client *http.Client) *Provider {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{config: config, client: client}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Message     string  `json:"message"`
	Preamble    string  `json:"preamble,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"`
}

// Complete sends prompt with the system prompt as preamble.
func (p *Provider) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if p.config.APIKey == "" {
		return "", fmt.Errorf("Cohere API key not configured")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       p.config.Model,
		Message:     prompt,
		Preamble:    llm.SystemOrDefault(systemPrompt),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "esg-rag")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Cohere API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
