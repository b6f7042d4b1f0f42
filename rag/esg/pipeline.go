// Package esg wires the planner, funnel, orchestrator, guidance and answer
// composers into the single question-answering entry point of the service.
package esg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/esg-rag/config"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/graph"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/answer"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/funnel"
	"github.com/sweetpotato0/esg-rag/rag/guidance"
	"github.com/sweetpotato0/esg-rag/rag/orchestrator"
	"github.com/sweetpotato0/esg-rag/rag/planner"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/rag/tokenizer"
	"github.com/sweetpotato0/esg-rag/session"
	"github.com/sweetpotato0/esg-rag/vector"
)

const (
	// DefaultTitle is used when no title can be generated.
	DefaultTitle = "新對話"
	// UntitledConversation labels conversations without a title in summaries.
	UntitledConversation = "未命名對話"

	maxTitleRunes = 14
	partSeparator = "\n\n---\n\n"
)

// Response is the outcome of one question.
type Response struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	// Guidance is set when Answer is a guidance reply rather than a grounded
	// answer.
	Guidance bool          `json:"guidance"`
	Plan     *planner.Plan `json:"plan,omitempty"`
}

// Conversation is one titled chat passed to Summarize.
type Conversation struct {
	Title   string          `json:"title"`
	History session.History `json:"history"`
}

// Pipeline answers questions over the ESG corpus. It is safe for
// concurrent use.
type Pipeline struct {
	gen            llm.Generator
	prompts        *prompt.Manager
	funnel         *funnel.Funnel
	planner        *planner.Planner
	orchestrator   *orchestrator.Orchestrator
	guidance       *guidance.Composer
	composer       *answer.Composer
	flow           *graph.Graph[*turn]
	topK           int
	suggestOnEmpty bool
	systemPrompt   string
	logger         *slog.Logger
}

type options struct {
	logger      *slog.Logger
	prompts     *prompt.Manager
	tokenizer   tokenizer.Tokenizer
	rnd         *rand.Rand
	rewriteGen  llm.Generator
	suggestOpts *bool
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger overrides the logger of the pipeline and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPrompts replaces the built-in prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(o *options) { o.prompts = m }
}

// WithTokenizer sets the tokenizer used for the answer context budget.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithRand sets the random source used by guidance sampling.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rnd = r }
}

// WithRewriteGenerator uses gen for query rewriting and expansion instead
// of the answer generator.
func WithRewriteGenerator(gen llm.Generator) Option {
	return func(o *options) { o.rewriteGen = gen }
}

// WithSuggestOnEmpty overrides cfg.Retrieval.SuggestOnEmpty.
func WithSuggestOnEmpty(v bool) Option {
	return func(o *options) { o.suggestOpts = &v }
}

// New builds a pipeline over store. Close releases the retrieval workers.
func New(gen llm.Generator, store vector.Store, cfg config.Config, opts ...Option) (*Pipeline, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: generator is nil", errorskg.ErrInvalidInput)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.WithComponent("esg")
	}
	prompts := o.prompts
	if prompts == nil {
		prompts = prompt.Default()
	}
	rewriteGen := o.rewriteGen
	if rewriteGen == nil {
		rewriteGen = gen
	}
	suggest := cfg.Retrieval.SuggestOnEmpty
	if o.suggestOpts != nil {
		suggest = *o.suggestOpts
	}

	plannerOpts := []planner.Option{}
	orchOpts := []orchestrator.Option{}
	guideOpts := []guidance.Option{guidance.WithRand(o.rnd)}
	answerOpts := []answer.Option{answer.WithTokenizer(o.tokenizer)}
	if o.logger != nil {
		plannerOpts = append(plannerOpts, planner.WithLogger(o.logger))
		orchOpts = append(orchOpts, orchestrator.WithLogger(o.logger))
		guideOpts = append(guideOpts, guidance.WithLogger(o.logger))
		answerOpts = append(answerOpts, answer.WithLogger(o.logger))
	}

	orch, err := orchestrator.New(store, cfg.Retrieval, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	fn := funnel.New(cfg.Domain)
	pl := planner.New(rewriteGen, prompts, cfg, plannerOpts...)
	p := &Pipeline{
		gen:            gen,
		prompts:        prompts,
		funnel:         fn,
		planner:        pl,
		orchestrator:   orch,
		guidance:       guidance.New(gen, prompts, pl, orch, fn, cfg, guideOpts...),
		composer:       answer.New(gen, prompts, cfg, answerOpts...),
		topK:           cfg.Retrieval.TopK,
		suggestOnEmpty: suggest,
		systemPrompt:   cfg.LLM.SystemPrompt,
		logger:         logger,
	}

	flow, err := p.buildFlow()
	if err != nil {
		orch.Close()
		return nil, fmt.Errorf("build answer flow: %w", err)
	}
	p.flow = flow
	return p, nil
}

// Close releases the retrieval worker pool.
func (p *Pipeline) Close() error {
	return p.orchestrator.Close()
}

// turn is the state carried through the answer flow.
type turn struct {
	question string
	history  session.History
	mode     document.Mode

	plan   *planner.Plan
	guide  *planner.GuidanceRequest
	filter searchfilter.Filter
	years  []int
	result orchestrator.Result

	resp *Response
}

const (
	nodeStart    = "start"
	nodePlan     = "plan"
	nodeRoute    = "route"
	nodeGuide    = "guide"
	nodeRetrieve = "retrieve"
	nodeFound    = "found"
	nodeEmpty    = "empty"
	nodeCompose  = "compose"
	nodeEnd      = "end"
)

func (p *Pipeline) buildFlow() (*graph.Graph[*turn], error) {
	return graph.NewBuilder[*turn]().
		AddNode(nodeStart, graph.NodeTypeStart, nil).
		AddNode(nodePlan, graph.NodeTypeStep, p.planStep).
		AddConditionNode(nodeRoute, func(_ context.Context, t *turn) (string, error) {
			if t.guide != nil {
				return nodeGuide, nil
			}
			return nodeRetrieve, nil
		}, map[string]string{nodeGuide: nodeGuide, nodeRetrieve: nodeRetrieve}).
		AddNode(nodeGuide, graph.NodeTypeStep, p.guideStep).
		AddNode(nodeRetrieve, graph.NodeTypeStep, p.retrieveStep).
		AddConditionNode(nodeFound, func(_ context.Context, t *turn) (string, error) {
			if t.result.Empty() {
				return nodeEmpty, nil
			}
			return nodeCompose, nil
		}, map[string]string{nodeEmpty: nodeEmpty, nodeCompose: nodeCompose}).
		AddNode(nodeEmpty, graph.NodeTypeStep, p.emptyStep).
		AddNode(nodeCompose, graph.NodeTypeStep, p.composeStep).
		AddNode(nodeEnd, graph.NodeTypeEnd, nil).
		AddEdge(nodeStart, nodePlan).
		AddEdge(nodePlan, nodeRoute).
		AddEdge(nodeGuide, nodeEnd).
		AddEdge(nodeRetrieve, nodeFound).
		AddEdge(nodeEmpty, nodeEnd).
		AddEdge(nodeCompose, nodeEnd).
		Build()
}

// Answer answers question against the corpus partition selected by mode.
// Unknown modes search everything. Vague questions and empty retrievals get
// a guidance reply with no sources. The only error is a failed final
// composition, which wraps errors.ErrGeneration.
func (p *Pipeline) Answer(ctx context.Context, question string, history session.History, mode string) (_ *Response, err error) {
	m := document.ParseMode(mode)
	ctx, span := telemetry.Start(ctx, "esg", "esg.answer", attribute.String("mode", string(m)))
	defer func() { telemetry.End(span, err) }()

	t, err := p.flow.Execute(ctx, &turn{question: question, history: history, mode: m})
	if err != nil {
		return nil, unwrapStep(err)
	}
	span.SetAttributes(attribute.Bool("esg.guidance", t.resp.Guidance), attribute.Int("esg.sources", len(t.resp.Sources)))
	return t.resp, nil
}

// unwrapStep surfaces generation failures and cancellation as-is; other
// flow errors are internal.
func unwrapStep(err error) error {
	switch {
	case errors.Is(err, errorskg.ErrGeneration):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("answer flow: %w", err)
}

func (p *Pipeline) planStep(ctx context.Context, t *turn) (*turn, error) {
	t.plan, t.guide = p.planner.Plan(ctx, t.question, t.history, t.mode)
	return t, nil
}

func (p *Pipeline) guideStep(ctx context.Context, t *turn) (*turn, error) {
	t.resp = &Response{
		Answer:   p.guidance.Guide(ctx, t.guide.Input, t.guide.Mode),
		Sources:  []string{},
		Guidance: true,
	}
	return t, nil
}

func (p *Pipeline) retrieveStep(ctx context.Context, t *turn) (*turn, error) {
	t.filter, t.years = p.funnel.Combined(t.mode, t.question)
	t.result = p.orchestrator.Retrieve(ctx, orchestrator.Request{
		Plan:   t.plan,
		Filter: t.filter,
		Years:  t.years,
		K:      p.topK,
	})
	return t, nil
}

func (p *Pipeline) emptyStep(ctx context.Context, t *turn) (*turn, error) {
	reply := guidance.NoResultsMessage
	if p.suggestOnEmpty {
		reply = p.guidance.Empty(ctx, t.question)
	}
	p.logger.Debug("no passages retrieved", "filter", t.filter.String(), "searches", len(t.result.Trace))
	t.resp = &Response{
		Answer:   reply,
		Sources:  []string{},
		Guidance: true,
		Plan:     t.plan,
	}
	return t, nil
}

func (p *Pipeline) composeStep(ctx context.Context, t *turn) (*turn, error) {
	if p.logger.Enabled(ctx, slog.LevelDebug) {
		p.logger.Debug("retrieved passages", "hits", len(t.result.Passages), "passages", Hits(t.result.Passages))
	}
	ans, err := p.composer.Compose(ctx, t.mode, t.question, t.result.Passages)
	if err != nil {
		return t, err
	}
	t.resp = &Response{
		Answer:  ans.Text,
		Sources: ans.Sources,
		Plan:    t.plan,
	}
	return t, nil
}

// Hit is the debug summary of one retrieved passage.
type Hit struct {
	Source      string `json:"source"`
	CompanyCode string `json:"company_code"`
	CompanyName string `json:"company_name"`
	Year        string `json:"year"`
	ChunkID     string `json:"chunk_id"`
}

// Hits summarises passages for debug logs. Passages without a chunk id are
// identified by the first eight hex digits of their content hash.
func Hits(passages []document.Passage) []Hit {
	out := make([]Hit, 0, len(passages))
	for _, p := range passages {
		id := p.Metadata.Text(document.KeyChunkID)
		if id == "" {
			id = document.SHA1(p.Content)[:8]
		}
		out = append(out, Hit{
			Source:      p.Metadata.Text(document.KeySource),
			CompanyCode: p.Metadata.Text(document.KeyCompanyCode),
			CompanyName: p.Metadata.Text(document.KeyCompanyName),
			Year:        p.Metadata.Text(document.KeyYear),
			ChunkID:     id,
		})
	}
	return out
}

// Title generates a short chat title from the first user message. It
// falls back to DefaultTitle when the message is blank or generation fails.
func (p *Pipeline) Title(ctx context.Context, firstUser string) string {
	firstUser = strings.TrimSpace(firstUser)
	if firstUser == "" {
		return DefaultTitle
	}
	rendered, err := p.prompts.Render(prompt.Title, map[string]any{"Input": firstUser})
	if err != nil {
		p.logger.Error("render title prompt failed", "error", err)
		return DefaultTitle
	}
	out, err := p.gen.Complete(ctx, rendered, p.systemPrompt)
	if err != nil {
		p.logger.Warn("title generation failed", "error", err)
		return DefaultTitle
	}
	return ClampTitle(out)
}

// ClampTitle strips newlines and keeps at most 14 runes.
func ClampTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = string([]rune(s)[:maxTitleRunes])
	}
	if s == "" {
		return DefaultTitle
	}
	return s
}

// Summarize writes a Markdown digest of several conversations.
func (p *Pipeline) Summarize(ctx context.Context, mode string, convs []Conversation) (_ string, err error) {
	ctx, span := telemetry.Start(ctx, "esg", "esg.summarize", attribute.Int("esg.conversations", len(convs)))
	defer func() { telemetry.End(span, err) }()

	rendered, err := p.prompts.Render(prompt.Summarize, map[string]any{
		"Mode":          string(document.ParseMode(mode)),
		"Conversations": RenderConversations(convs),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errorskg.ErrGeneration, err)
	}
	out, err := p.gen.Complete(ctx, rendered, p.systemPrompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errorskg.ErrGeneration, err)
	}
	return strings.TrimSpace(out), nil
}

// RenderConversations renders each conversation as a titled block of
// history lines. No conversations render as answer.NoContent.
func RenderConversations(convs []Conversation) string {
	if len(convs) == 0 {
		return answer.NoContent
	}
	parts := make([]string, 0, len(convs))
	for _, c := range convs {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = UntitledConversation
		}
		parts = append(parts, "【"+title+"】\n"+c.History.Render())
	}
	return strings.Join(parts, partSeparator)
}
