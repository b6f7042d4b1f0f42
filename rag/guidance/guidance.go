// Package guidance writes exploratory replies for vague turns and for turns
// where retrieval found nothing. Replies only reference metadata values
// sampled from the corpus, never passage content.
package guidance

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/funnel"
	"github.com/sweetpotato0/esg-rag/rag/planner"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
)

// FallbackMessage is returned when the generator is unavailable.
const FallbackMessage = "目前無法產生查詢建議。可以告訴我想查【ESG 指標】還是【新聞】、哪家公司（名稱或代號）、哪一年或年份範圍，" +
	"例如：「台積電 2022 溫室氣體排放」或「鴻海 正面 新聞」。"

// NoResultsMessage is the static reply for empty retrieval when suggestions
// are disabled.
const NoResultsMessage = "目前資料庫中無相關資訊。"

var (
	esgKeys  = []string{document.KeyCompanyName, document.KeyCompanyCode, document.KeyIndicator, document.KeySubField, document.KeyCategory, document.KeyYear}
	newsKeys = []string{document.KeyCompanyName, document.KeyCompanyCode, document.KeyCategory, document.KeySentiment, document.KeyKeyword}
)

// Searcher is the similarity search used for sampling.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter searchfilter.Filter) []document.Passage
}

// Candidates are sampled metadata values per key, in first-seen order.
type Candidates map[string][]document.Value

// Strings returns the values of key rendered as text.
func (c Candidates) Strings(key string) []string {
	out := make([]string, 0, len(c[key]))
	for _, v := range c[key] {
		out = append(out, v.String())
	}
	return out
}

// Composer is safe for concurrent use.
type Composer struct {
	gen          llm.Generator
	prompts      *prompt.Manager
	planner      *planner.Planner
	searcher     Searcher
	funnel       *funnel.Funnel
	sample       config.GuidanceSample
	systemPrompt string
	logger       *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Composer.
type Option func(*Composer)

// WithRand sets the random source used to pick candidates.
func WithRand(r *rand.Rand) Option {
	return func(c *Composer) {
		if r != nil {
			c.rnd = r
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

// New creates a guidance composer.
func New(gen llm.Generator, prompts *prompt.Manager, pl *planner.Planner, searcher Searcher, fn *funnel.Funnel, cfg config.Config, opts ...Option) *Composer {
	c := &Composer{
		gen:          gen,
		prompts:      prompts,
		planner:      pl,
		searcher:     searcher,
		funnel:       fn,
		sample:       cfg.Retrieval.Guidance,
		systemPrompt: cfg.LLM.SystemPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rnd == nil {
		c.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("guidance")
	}
	return c
}

// Guide answers a vague turn. The reply is built from sampled metadata and
// example queries; a generation failure yields FallbackMessage.
func (c *Composer) Guide(ctx context.Context, text string, mode document.Mode) string {
	mode = mode.Guidance()
	ctx, span := telemetry.Start(ctx, "guidance", "guidance.guide")
	defer telemetry.End(span, nil)

	cands := c.RelatedValues(ctx, text, mode)
	vars := c.promptVars(text, mode, cands)

	rendered, err := c.prompts.Render(prompt.Guide, vars)
	if err != nil {
		c.logger.Error("render guide prompt failed", "error", err)
		return FallbackMessage
	}
	out, err := c.gen.Complete(ctx, rendered, c.systemPrompt)
	if err != nil || strings.TrimSpace(out) == "" {
		c.logger.Warn("guidance generation failed, using static help", "error", err)
		return FallbackMessage
	}
	return strings.TrimSpace(out)
}

// Empty answers a turn whose retrieval found nothing.
func (c *Composer) Empty(ctx context.Context, text string) string {
	rendered, err := c.prompts.Render(prompt.Empty, map[string]any{"Input": text})
	if err != nil {
		c.logger.Error("render empty prompt failed", "error", err)
		return FallbackMessage
	}
	out, err := c.gen.Complete(ctx, rendered, c.systemPrompt)
	if err != nil || strings.TrimSpace(out) == "" {
		c.logger.Warn("empty-result guidance failed, using static help", "error", err)
		return FallbackMessage
	}
	return strings.TrimSpace(out)
}

// RelatedValues samples metadata values near text. It plans without
// guidance, searches the mode's partition only and stops once every key
// holds MaxEach values.
func (c *Composer) RelatedValues(ctx context.Context, text string, mode document.Mode) Candidates {
	mode = mode.Guidance()
	keys := esgKeys
	if mode == document.ModeNews {
		keys = newsKeys
	}
	where := funnel.ModeFilter(mode)

	base := strings.TrimSpace(text)
	if base == "" {
		base = "ESG"
		if mode == document.ModeNews {
			base = "新聞"
		}
	}

	queries := []string{base}
	if plan, _ := c.planner.Plan(ctx, base, nil, mode, planner.WithoutGuidance(), planner.WithVariants(c.sample.Variants)); plan != nil {
		queries = plan.Variants
	}

	out := make(Candidates, len(keys))
	seen := make(map[string]map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = make(map[string]struct{})
	}
	add := func(key string, v document.Value) {
		id := v.Kind().String() + ":" + v.String()
		if _, ok := seen[key][id]; ok {
			return
		}
		seen[key][id] = struct{}{}
		out[key] = append(out[key], v)
	}

	// utterance mentions bias the company pool, whitelist only
	for _, name := range c.funnel.SuffixCandidates(text) {
		if c.funnel.KnownName(name) {
			add(document.KeyCompanyName, document.String(name))
		}
	}

	for _, q := range queries {
		for _, p := range c.searcher.Search(ctx, q, c.sample.K, where) {
			for _, key := range keys {
				if v, ok := c.accept(key, p.Metadata.Get(key)); ok {
					add(key, v)
				}
			}
		}
		if full(out, keys, c.sample.MaxEach) {
			break
		}
	}

	for k, vs := range out {
		if len(vs) > c.sample.MaxEach {
			out[k] = vs[:c.sample.MaxEach]
		}
	}
	return out
}

func (c *Composer) accept(key string, v document.Value) (document.Value, bool) {
	if v.IsNull() {
		return v, false
	}
	if key == document.KeyYear {
		return v, v.Kind() == document.KindInt
	}
	if s, ok := v.Str(); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return v, false
		}
		v = document.String(s)
	}
	switch key {
	case document.KeyCompanyName:
		return v, c.funnel.KnownName(v.String())
	case document.KeyCompanyCode:
		return v, c.funnel.KnownCode(v.String())
	}
	return v, true
}

func full(c Candidates, keys []string, n int) bool {
	for _, k := range keys {
		if len(c[k]) < n {
			return false
		}
	}
	return true
}

func (c *Composer) promptVars(text string, mode document.Mode, cands Candidates) map[string]any {
	companies := cands.Strings(document.KeyCompanyName)
	if len(companies) == 0 {
		companies = cands.Strings(document.KeyCompanyCode)
	}

	modeLine := "目前預設在【ESG 指標】模式。"
	if mode == document.ModeNews {
		modeLine = "目前預設在【新聞】模式。"
	}

	return map[string]any{
		"Input":     strings.TrimSpace(text),
		"ModeLine":  modeLine,
		"Companies": c.pick(companies, 6),
		"Fields":    c.pick(append(cands.Strings(document.KeySubField), cands.Strings(document.KeyIndicator)...), 6),
		"Years":     c.pick(cands.Strings(document.KeyYear), 6),
		"NewsTags":  c.pick(append(cands.Strings(document.KeyCategory), cands.Strings(document.KeySentiment)...), 6),
		"Examples":  c.Examples(mode, cands),
	}
}

// Examples builds two or three copyable queries from sampled values.
func (c *Composer) Examples(mode document.Mode, cands Candidates) []string {
	companies := cands.Strings(document.KeyCompanyName)
	if len(companies) == 0 {
		companies = cands.Strings(document.KeyCompanyCode)
	}
	companies = c.pick(companies, 2)
	examples := []string{}

	if mode == document.ModeNews {
		if len(companies) == 0 {
			return examples
		}
		cats := c.pick(cands.Strings(document.KeyCategory), 1)
		sents := c.pick(cands.Strings(document.KeySentiment), 1)
		kws := c.pick(cands.Strings(document.KeyKeyword), 1)

		cat := "ESG"
		if len(cats) > 0 {
			cat = cats[0]
		}
		examples = append(examples, fmt.Sprintf("%s %s 新聞", companies[0], cat))
		if len(sents) > 0 {
			examples = append(examples, fmt.Sprintf("%s %s 新聞", companies[0], sents[0]))
		}
		if len(companies) > 1 && len(kws) > 0 {
			examples = append(examples, fmt.Sprintf("%s %s 新聞", companies[1], kws[0]))
		}
		return examples
	}

	subs := cands.Strings(document.KeySubField)
	if len(subs) == 0 {
		subs = cands.Strings(document.KeyIndicator)
	}
	subs = c.pick(subs, 2)
	years := c.pickYears(cands[document.KeyYear], 3)
	if len(companies) == 0 || len(subs) == 0 || len(years) == 0 {
		return examples
	}

	lo, hi := slices.Min(years), slices.Max(years)
	examples = append(examples,
		fmt.Sprintf("%s %d %s", companies[0], years[0], subs[0]),
		fmt.Sprintf("%s %d-%d %s", companies[0], lo, hi, subs[len(subs)-1]),
	)
	if len(companies) > 1 {
		examples = append(examples, fmt.Sprintf("%s %d %s", companies[1], years[len(years)-1], subs[0]))
	}
	return examples
}

// pick drops blanks and returns n values chosen uniformly without
// replacement, or all values when there are at most n.
func (c *Composer) pick(items []string, n int) []string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) <= n {
		return kept
	}

	c.mu.Lock()
	idx := c.rnd.Perm(len(kept))[:n]
	c.mu.Unlock()

	out := make([]string, n)
	for i, j := range idx {
		out[i] = kept[j]
	}
	return out
}

func (c *Composer) pickYears(vals []document.Value, n int) []int {
	strs := make([]string, 0, len(vals))
	for _, v := range vals {
		if y, ok := v.Int(); ok {
			strs = append(strs, strconv.FormatInt(y, 10))
		}
	}
	picked := c.pick(strs, n)
	out := make([]int, 0, len(picked))
	for _, s := range picked {
		y, _ := strconv.Atoi(s)
		out = append(out, y)
	}
	return out
}
