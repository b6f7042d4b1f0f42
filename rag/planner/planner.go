// Package planner turns a user utterance into retrieval queries: it detects
// vague turns that need guidance, rewrites the utterance into a keyword
// query and expands it into alternative phrasings.
package planner

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/session"
)

// Plan is the set of queries issued for one turn. Variants[0] is always
// Query.
type Plan struct {
	Raw      string        `json:"raw"`
	Query    string        `json:"query"`
	Variants []string      `json:"variants"`
	Mode     document.Mode `json:"mode"`
}

// Rewritten reports whether the canonical query differs from the raw text
// once whitespace is collapsed.
func (p Plan) Rewritten() bool {
	return collapse(p.Query) != collapse(p.Raw)
}

// GuidanceRequest asks the caller to reply with guidance instead of
// retrieving.
type GuidanceRequest struct {
	Input string
	Mode  document.Mode
}

// Planner builds query plans. It is safe for concurrent use.
type Planner struct {
	gen          llm.Generator
	prompts      *prompt.Manager
	companies    []string
	vague        []string
	vagueExact   map[string]struct{}
	historyTurns int
	variants     int
	systemPrompt string
	logger       *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger overrides the planner logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSystemPrompt sets the system prompt sent with rewrite and expansion
// calls.
func WithSystemPrompt(s string) Option {
	return func(p *Planner) { p.systemPrompt = s }
}

// New creates a planner. gen is used for both rewriting and expansion.
func New(gen llm.Generator, prompts *prompt.Manager, cfg config.Config, opts ...Option) *Planner {
	p := &Planner{
		gen:          gen,
		prompts:      prompts,
		companies:    cfg.Domain.CompanyNames(),
		vague:        make([]string, 0, len(cfg.Domain.VaguePhrases)),
		vagueExact:   make(map[string]struct{}, len(cfg.Domain.VagueExact)),
		historyTurns: cfg.Retrieval.HistoryTurns,
		variants:     cfg.Retrieval.Variants,
		systemPrompt: cfg.LLM.SystemPrompt,
	}
	for _, v := range cfg.Domain.VaguePhrases {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			p.vague = append(p.vague, v)
		}
	}
	for _, v := range cfg.Domain.VagueExact {
		p.vagueExact[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.WithComponent("planner")
	}
	return p
}

type planOptions struct {
	allowGuidance bool
	variants      int
}

// PlanOption adjusts a single Plan call.
type PlanOption func(*planOptions)

// WithoutGuidance never returns a GuidanceRequest. Guidance sampling uses it
// so that planning cannot recurse into guidance.
func WithoutGuidance() PlanOption {
	return func(o *planOptions) { o.allowGuidance = false }
}

// WithVariants overrides the number of expansions; 0 disables expansion.
func WithVariants(n int) PlanOption {
	return func(o *planOptions) { o.variants = n }
}

// Plan rewrites and expands text. It returns a GuidanceRequest instead when
// the utterance is blank or vague and guidance is allowed. Generation
// failures degrade to the literal text and never surface as errors.
func (p *Planner) Plan(ctx context.Context, text string, history session.History, mode document.Mode, opts ...PlanOption) (*Plan, *GuidanceRequest) {
	o := planOptions{allowGuidance: true, variants: p.variants}
	for _, opt := range opts {
		opt(&o)
	}

	if o.allowGuidance && p.IsVague(text) {
		p.logger.Debug("vague input, routing to guidance", "input_runes", utf8.RuneCountInString(text))
		return nil, &GuidanceRequest{Input: strings.TrimSpace(text), Mode: mode.Guidance()}
	}

	ctx, span := telemetry.Start(ctx, "planner", "planner.plan", attribute.String("mode", string(mode)))
	defer telemetry.End(span, nil)

	query := p.Rewrite(ctx, text, history)
	variants := p.Expand(ctx, query, o.variants)
	span.SetAttributes(attribute.Int("planner.variants", len(variants)))

	return &Plan{
		Raw:      strings.TrimSpace(text),
		Query:    query,
		Variants: variants,
		Mode:     mode,
	}, nil
}

// IsVague reports whether text is blank, an exact greeting, or contains one
// of the exploratory phrases.
func (p *Planner) IsVague(text string) bool {
	base := strings.ToLower(strings.TrimSpace(text))
	if _, ok := p.vagueExact[base]; ok || base == "" {
		return true
	}
	for _, phrase := range p.vague {
		if strings.Contains(base, phrase) {
			return true
		}
	}
	return false
}

// Rewrite asks the generator for a single-line keyword query. Whitespace is
// collapsed; an empty reply or an error yields the trimmed input.
func (p *Planner) Rewrite(ctx context.Context, text string, history session.History) string {
	fallback := strings.TrimSpace(text)

	rendered, err := p.prompts.Render(prompt.Rewrite, map[string]any{
		"Companies": p.companies,
		"History":   history.Window(p.historyTurns).Render(),
		"Input":     text,
	})
	if err != nil {
		p.logger.Error("render rewrite prompt failed", "error", err)
		return fallback
	}

	out, err := p.gen.Complete(ctx, rendered, p.systemPrompt)
	if err != nil {
		p.logger.Warn("rewrite failed, using literal input", "error", err)
		return fallback
	}
	if q := collapse(out); q != "" {
		p.logger.Debug("query rewritten", "input_runes", utf8.RuneCountInString(text), "query_runes", utf8.RuneCountInString(q))
		return q
	}
	return fallback
}

// Expand returns query followed by up to n distinct alternative phrasings.
// Duplicates are detected case-insensitively; query itself is never dropped.
func (p *Planner) Expand(ctx context.Context, query string, n int) []string {
	if n <= 0 {
		return []string{query}
	}

	rendered, err := p.prompts.Render(prompt.Expand, map[string]any{"N": n, "Query": query})
	if err != nil {
		p.logger.Error("render expand prompt failed", "error", err)
		return []string{query}
	}
	raw, err := p.gen.Complete(ctx, rendered, p.systemPrompt)
	if err != nil {
		p.logger.Warn("expansion failed, using single variant", "error", err)
		return []string{query}
	}

	fold := cases.Fold()
	out := []string{query}
	seen := map[string]struct{}{fold.String(query): {}}
	for _, line := range strings.Split(raw, "\n") {
		if len(out) > n {
			break
		}
		v := cleanVariant(line)
		if utf8.RuneCountInString(v) < 2 {
			continue
		}
		key := fold.String(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	p.logger.Debug("query expanded", "variants", len(out))
	return out
}

// cleanVariant strips list markers and numbering, surrounding quotes and
// redundant whitespace from one generated line.
func cleanVariant(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, " ・-•\t0123456789.")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return collapse(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
