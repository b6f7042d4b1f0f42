package provider

import (
	"context"
	"testing"

	"github.com/sweetpotato0/esg-rag/config"
	esgerrors "github.com/sweetpotato0/esg-rag/errors"
)

func TestNewKnownProviders(t *testing.T) {
	for _, name := range []string{config.ProviderOpenAI, config.ProviderClaude, config.ProviderGroq, config.ProviderCohere} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default().LLM
			cfg.Provider = name
			cfg.APIKey = "test"
			g, err := New(context.Background(), cfg)
			if err != nil {
				t.Fatalf("New(%s) failed: %v", name, err)
			}
			if g.Answer == nil || g.Rewrite == nil {
				t.Fatalf("expected both generators for %s", name)
			}
			if err := g.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = "llama"
	_, err := New(context.Background(), cfg)
	if !esgerrors.Is(err, esgerrors.ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderGemini
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error without API key")
	}
}
