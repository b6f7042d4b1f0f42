// Package answer composes the final grounded reply from retrieved passages.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/esg-rag/config"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/preprocess"
	"github.com/sweetpotato0/esg-rag/rag/tokenizer"
)

const (
	// Separator joins passage contents in the context block.
	Separator = "\n---\n"
	// NoContent stands in for an empty context.
	NoContent = "(無內容)"
)

// Answer is a composed reply.
type Answer struct {
	Text string
	// Sources are the distinct sources of the passages placed in context.
	Sources []string
	// Used is the number of passages that fit the context budget.
	Used int
}

// Composer is safe for concurrent use.
type Composer struct {
	gen          llm.Generator
	prompts      *prompt.Manager
	tok          tokenizer.Tokenizer
	maxTokens    int
	systemPrompt string
	logger       *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithTokenizer sets the tokenizer used for the context budget.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(c *Composer) {
		if t != nil {
			c.tok = t
		}
	}
}

// WithLogger overrides the composer logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an answer composer.
func New(gen llm.Generator, prompts *prompt.Manager, cfg config.Config, opts ...Option) *Composer {
	c := &Composer{
		gen:          gen,
		prompts:      prompts,
		tok:          tokenizer.Simple{},
		maxTokens:    cfg.Retrieval.MaxContextTokens,
		systemPrompt: cfg.LLM.SystemPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("answer")
	}
	return c
}

// Compose renders the mode's answer template over passages and asks the
// generator for the reply. Any generation failure wraps ErrGeneration.
func (c *Composer) Compose(ctx context.Context, mode document.Mode, query string, passages []document.Passage) (_ Answer, err error) {
	ctx, span := telemetry.Start(ctx, "answer", "answer.compose",
		attribute.String("mode", string(mode)),
		attribute.Int("answer.passages", len(passages)),
	)
	defer func() { telemetry.End(span, err) }()

	block, used := BuildContext(passages, c.tok, c.maxTokens)
	if len(used) < len(passages) {
		c.logger.Debug("context budget dropped passages", "kept", len(used), "total", len(passages))
	}

	name := prompt.AnswerESG
	vars := map[string]any{"Context": block, "Query": query}
	if mode == document.ModeNews {
		name = prompt.AnswerNews
		vars["Refs"] = NewsRefs(used)
	} else {
		vars["Label"] = mode.Label()
	}

	rendered, err := c.prompts.Render(name, vars)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", errorskg.ErrGeneration, err)
	}

	out, err := c.gen.Complete(ctx, rendered, c.systemPrompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", errorskg.ErrGeneration, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Answer{}, fmt.Errorf("%w: %w", errorskg.ErrGeneration, errEmptyCompletion)
	}

	return Answer{
		Text:    out,
		Sources: document.Sources(used),
		Used:    len(used),
	}, nil
}

var errEmptyCompletion = errors.New("empty completion")

// BuildContext joins cleaned passage contents with Separator. Passages with
// no text are skipped and not reported as used. With a positive budget,
// passages are added in order until the next one would exceed it; the first
// passage is always kept. It returns the context and the passages it
// contains.
func BuildContext(passages []document.Passage, tok tokenizer.Tokenizer, budget int) (string, []document.Passage) {
	parts := make([]string, 0, len(passages))
	used := make([]document.Passage, 0, len(passages))
	total := 0
	for _, p := range passages {
		text := preprocess.CleanPassage(p.Content)
		if text == "" {
			continue
		}
		if budget > 0 && tok != nil {
			n := tok.CountTokens(text)
			if len(used) > 0 && total+n > budget {
				break
			}
			total += n
		}
		parts = append(parts, text)
		used = append(used, p)
	}

	out := strings.Join(parts, Separator)
	if out == "" {
		out = NoContent
	}
	return out, used
}

// NewsRefs lists title, company, sentiment and url of news passages that
// carry a title or url. It returns "" when no passage qualifies.
func NewsRefs(passages []document.Passage) string {
	var rows []string
	for _, p := range passages {
		md := p.Metadata
		title, url := md.Text(document.KeyTitle), md.Text(document.KeyURL)
		if title == "" && url == "" {
			continue
		}
		rows = append(rows, fmt.Sprintf("- %s｜%s｜%s｜%s", title, md.Text(document.KeyCompanyName), md.Text(document.KeySentiment), url))
	}
	if len(rows) == 0 {
		return ""
	}
	return "【新聞來源清單】\n" + strings.Join(rows, "\n") + "\n\n"
}
