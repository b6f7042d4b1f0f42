// Package llm defines the text generation capability the pipeline depends on.
package llm

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
)

// DefaultSystemPrompt is used when a caller passes an empty system prompt.
const DefaultSystemPrompt = "你是一個有幫助的助理，請務必僅根據提供的內容作答，簡潔、準確。"

// Generator produces text for a prompt. Implementations are safe for
// concurrent use.
type Generator interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)

// Complete implements Generator.
func (fn GeneratorFunc) Complete(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return fn(ctx, prompt, systemPrompt)
}

// SystemOrDefault returns systemPrompt, or DefaultSystemPrompt when blank.
func SystemOrDefault(systemPrompt string) string {
	if strings.TrimSpace(systemPrompt) == "" {
		return DefaultSystemPrompt
	}
	return systemPrompt
}

// Traced wraps g so that every call records an "llm.complete" span.
func Traced(g Generator, provider string) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt, systemPrompt string) (out string, err error) {
		ctx, span := telemetry.Start(ctx, "llm", "llm.complete",
			attribute.String("llm.provider", provider),
			attribute.Int("llm.prompt_runes", utf8.RuneCountInString(prompt)),
		)
		defer func() { telemetry.End(span, err) }()
		return g.Complete(ctx, prompt, systemPrompt)
	})
}
