// Package provider builds an llm.Generator from configuration.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/contrib/provider/claude"
	"github.com/sweetpotato0/esg-rag/contrib/provider/cohere"
	"github.com/sweetpotato0/esg-rag/contrib/provider/gemini"
	"github.com/sweetpotato0/esg-rag/contrib/provider/groq"
	"github.com/sweetpotato0/esg-rag/contrib/provider/openai"
	esgerrors "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/llm"
)

// Generators holds the answer generator and the low temperature generator
// used for query rewriting and expansion.
type Generators struct {
	Answer  llm.Generator
	Rewrite llm.Generator
	close   []func() error
}

// Close releases provider clients.
func (g *Generators) Close() error {
	var first error
	for _, fn := range g.close {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New builds both generators from cfg.
func New(ctx context.Context, cfg config.LLM) (*Generators, error) {
	g := &Generators{}

	answer, closeAnswer, err := build(ctx, cfg, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	g.Answer = llm.Traced(withTimeout(answer, cfg.Timeout), cfg.Provider)
	if closeAnswer != nil {
		g.close = append(g.close, closeAnswer)
	}

	model := cfg.RewriteModel
	if model == "" {
		model = cfg.Model
	}
	rewrite, closeRewrite, err := build(ctx, cfg, model, cfg.RewriteTemperature, 256)
	if err != nil {
		_ = g.Close()
		return nil, err
	}
	g.Rewrite = llm.Traced(withTimeout(rewrite, cfg.Timeout), cfg.Provider)
	if closeRewrite != nil {
		g.close = append(g.close, closeRewrite)
	}
	return g, nil
}

func build(ctx context.Context, cfg config.LLM, model string, temperature float64, maxTokens int) (llm.Generator, func() error, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return openai.New(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			MaxTokens:   int64(maxTokens),
			Temperature: temperature,
		}), nil, nil
	case config.ProviderGroq:
		return groq.New(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			MaxTokens:   int64(maxTokens),
			Temperature: temperature,
		}), nil, nil
	case config.ProviderClaude:
		return claude.New(claude.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			MaxTokens:   int64(maxTokens),
			Temperature: temperature,
		}), nil, nil
	case config.ProviderGemini:
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       model,
			MaxTokens:   int32(maxTokens),
			Temperature: float32(temperature),
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case config.ProviderCohere:
		return cohere.New(cohere.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}, nil), nil, nil
	default:
		return nil, nil, fmt.Errorf("llm provider %q: %w", cfg.Provider, esgerrors.ErrUnsupportedBackend)
	}
}

func withTimeout(g llm.Generator, timeout time.Duration) llm.Generator {
	if timeout <= 0 {
		return g
	}
	return llm.GeneratorFunc(func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return g.Complete(ctx, prompt, systemPrompt)
	})
}
