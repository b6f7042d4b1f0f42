// Package orchestrator runs the similarity searches of one query plan:
// a fan-out over the plan variants, per-year coverage backfill and a
// low-recall backoff to the raw user text.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/pkg/telemetry"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/planner"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/vector"
)

// Stage names the step of Retrieve that issued a search.
type Stage string

const (
	StageFanout   Stage = "fanout"
	StageBackfill Stage = "backfill"
	StageBackoff  Stage = "backoff"
)

// Search records one issued similarity search.
type Search struct {
	Stage  Stage
	Query  string
	K      int
	Filter searchfilter.Filter
	Hits   int
	Err    error
}

// Request is the input of Retrieve.
type Request struct {
	Plan *planner.Plan
	// Filter is the combined mode and funnel filter, including any year
	// set constraint.
	Filter searchfilter.Filter
	// Years are the explicitly requested years that must be covered.
	Years []int
	// K is the per-search result count; 0 uses the configured default.
	K int
}

// Result is the deduplicated outcome of Retrieve.
type Result struct {
	Passages []document.Passage
	Sources  []string
	Trace    []Search
}

// Empty reports whether nothing was retrieved.
func (r Result) Empty() bool { return len(r.Passages) == 0 }

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store        vector.Store
	topK         int
	minUnique    int
	backfillMinK int
	pool         *ants.PoolWithFunc
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator over store. A worker pool is started when
// cfg.FanoutWorkers is greater than one; release it with Close.
func New(store vector.Store, cfg config.Retrieval, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("vector store is nil")
	}
	o := &Orchestrator{
		store:        store,
		topK:         cfg.TopK,
		minUnique:    cfg.MinUniqueDocs,
		backfillMinK: cfg.BackfillMinK,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("orchestrator")
	}
	if cfg.FanoutWorkers > 1 {
		pool, err := createSearchPool(cfg.FanoutWorkers)
		if err != nil {
			return nil, err
		}
		o.pool = pool
	}
	return o, nil
}

// Close releases the worker pool.
func (o *Orchestrator) Close() error {
	if o.pool != nil {
		o.pool.Release()
	}
	return nil
}

// Retrieve runs fan-out, coverage backfill and backoff. Store failures are
// logged and count as empty results; Retrieve itself never fails.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) Result {
	k := req.K
	if k <= 0 {
		k = o.topK
	}
	ctx, span := telemetry.Start(ctx, "orchestrator", "orchestrator.retrieve",
		attribute.Int("retrieval.k", k),
		attribute.Int("retrieval.variants", len(req.Plan.Variants)),
		attribute.String("retrieval.filter", req.Filter.String()),
	)
	defer telemetry.End(span, nil)

	var trace []Search

	fanout := o.fanout(ctx, req.Plan.Variants, k, req.Filter)
	var merged []document.Passage
	for _, r := range fanout {
		merged = append(merged, r.passages...)
		trace = append(trace, r.search)
	}
	docs := document.Unique(merged)

	if len(req.Years) > 0 {
		missing := missingYears(docs, req.Years)
		o.logger.Debug("year coverage", "asked", req.Years, "missing", missing)
		bk := max(o.backfillMinK, k/2)
		for _, y := range missing {
			flt := req.Filter.Pin(document.KeyYear, y)
			ps, s := o.search(ctx, StageBackfill, req.Plan.Query, bk, flt)
			docs = append(docs, ps...)
			trace = append(trace, s)
		}
		docs = document.Unique(docs)
	}

	if len(docs) < o.minUnique && req.Plan.Rewritten() {
		o.logger.Debug("low recall, retrying with raw query", "hits", len(docs))
		ps, s := o.search(ctx, StageBackoff, req.Plan.Raw, k, req.Filter)
		docs = document.Unique(append(docs, ps...))
		trace = append(trace, s)
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(docs)), attribute.Int("retrieval.searches", len(trace)))
	return Result{
		Passages: docs,
		Sources:  document.Sources(docs),
		Trace:    trace,
	}
}

// Search issues a single guarded similarity search. Blank queries and
// non-positive k return nothing without touching the store.
func (o *Orchestrator) Search(ctx context.Context, query string, k int, filter searchfilter.Filter) []document.Passage {
	ps, _ := o.search(ctx, StageFanout, query, k, filter)
	return ps
}

func (o *Orchestrator) search(ctx context.Context, stage Stage, query string, k int, filter searchfilter.Filter) ([]document.Passage, Search) {
	rec := Search{Stage: stage, Query: query, K: k, Filter: filter}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, rec
	}

	ctx, span := telemetry.Start(ctx, "orchestrator", "vector.search",
		attribute.String("search.stage", string(stage)),
		attribute.Int("search.k", k),
	)
	ps, err := o.store.Search(ctx, query, k, filter)
	telemetry.End(span, err)
	if err != nil {
		o.logger.Warn("similarity search failed", "stage", stage, "query_runes", utf8.RuneCountInString(query), "filter", filter.String(), "error", err)
		rec.Err = err
		return nil, rec
	}
	rec.Hits = len(ps)
	return ps, rec
}

type searchResult struct {
	passages []document.Passage
	search   Search
}

// fanout searches every variant and returns results in variant order,
// regardless of completion order.
func (o *Orchestrator) fanout(ctx context.Context, queries []string, k int, filter searchfilter.Filter) []searchResult {
	results := make([]searchResult, len(queries))
	if o.pool == nil || len(queries) < 2 {
		for i, q := range queries {
			ps, s := o.search(ctx, StageFanout, q, k, filter)
			results[i] = searchResult{passages: ps, search: s}
		}
		return results
	}

	var wg sync.WaitGroup
	for idx, q := range queries {
		wg.Add(1)
		task := searchTaskPool.Get().(*searchTask)
		task.idx = idx
		task.ctx = ctx
		task.query = q
		task.k = k
		task.filter = filter
		task.o = o
		task.results = results
		task.wg = &wg
		if err := o.pool.Invoke(task); err != nil {
			o.logger.Warn("submit search task failed, searching inline", "error", err)
			task.reset()
			searchTaskPool.Put(task)
			ps, s := o.search(ctx, StageFanout, q, k, filter)
			results[idx] = searchResult{passages: ps, search: s}
			wg.Done()
		}
	}
	wg.Wait()
	return results
}

type searchTask struct {
	idx     int
	ctx     context.Context
	query   string
	k       int
	filter  searchfilter.Filter
	o       *Orchestrator
	results []searchResult
	wg      *sync.WaitGroup
}

func (t *searchTask) reset() {
	t.idx = 0
	t.ctx = nil
	t.query = ""
	t.k = 0
	t.filter = searchfilter.Filter{}
	t.o = nil
	t.results = nil
	t.wg = nil
}

var searchTaskPool = &sync.Pool{
	New: func() any { return new(searchTask) },
}

func createSearchPool(size int) (*ants.PoolWithFunc, error) {
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		task, ok := args.(*searchTask)
		if !ok {
			panic("search pool args type error")
		}
		wg := task.wg
		defer func() {
			wg.Done()
			task.reset()
			searchTaskPool.Put(task)
		}()
		ps, s := task.o.search(task.ctx, StageFanout, task.query, task.k, task.filter)
		task.results[task.idx] = searchResult{passages: ps, search: s}
	})
	if err != nil {
		return nil, fmt.Errorf("create search pool: %w", err)
	}
	return pool, nil
}

// missingYears returns the requested years with no passage in docs, in
// request order. Years stored as integral floats count as present.
func missingYears(docs []document.Passage, years []int) []int {
	hit := make(map[int]struct{}, len(docs))
	for _, d := range docs {
		if y, ok := d.Year(); ok {
			hit[y] = struct{}{}
		}
	}
	var missing []int
	for _, y := range years {
		if _, ok := hit[y]; !ok {
			missing = append(missing, y)
		}
	}
	return missing
}
