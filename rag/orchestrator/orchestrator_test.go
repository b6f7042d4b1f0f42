package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/planner"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/vector"
)

type call struct {
	query  string
	k      int
	filter string
}

// recordingStore answers from fn and records every call.
type recordingStore struct {
	mu    sync.Mutex
	calls []call
	fn    func(query string, k int, filter searchfilter.Filter) ([]document.Passage, error)
}

func (s *recordingStore) Search(_ context.Context, query string, k int, filter searchfilter.Filter) ([]document.Passage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{query: query, k: k, filter: filter.String()})
	s.mu.Unlock()
	return s.fn(query, k, filter)
}

var _ vector.Store = (*recordingStore)(nil)

func passage(id string, year int) document.Passage {
	return document.Passage{
		Content: "content " + id,
		Metadata: document.Metadata{
			document.KeySource:  document.String("esg.json"),
			document.KeyChunkID: document.String(id),
			document.KeyYear:    document.Int(int64(year)),
		},
	}
}

func retrievalConfig(workers int) config.Retrieval {
	cfg := config.Default().Retrieval
	cfg.FanoutWorkers = workers
	return cfg
}

func newOrchestrator(t *testing.T, store vector.Store, workers int) *Orchestrator {
	t.Helper()
	o, err := New(store, retrievalConfig(workers), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestRetrieveBackfillsMissingYear(t *testing.T) {
	store := &recordingStore{fn: func(q string, k int, f searchfilter.Filter) ([]document.Passage, error) {
		if c, ok := f.Get(document.KeyYear); ok && c.Operator == searchfilter.OperatorEqual {
			return []document.Passage{passage("c-2023", 2023)}, nil
		}
		return []document.Passage{passage("c-2021", 2021), passage("c-2022", 2022)}, nil
	}}
	o := newOrchestrator(t, store, 1)

	base := searchfilter.New(
		searchfilter.Equal(document.KeyDocType, "esg"),
		searchfilter.Equal(document.KeyCompanyName, "台積電"),
		searchfilter.In(document.KeyYear, 2021, 2022, 2023),
	)
	plan := &planner.Plan{
		Raw:      "台積電 2021-2023 溫室氣體排放",
		Query:    "台積電 2021 2022 2023 溫室氣體 排放",
		Variants: []string{"台積電 2021 2022 2023 溫室氣體 排放", "台積電 碳排"},
	}

	res := o.Retrieve(context.Background(), Request{Plan: plan, Filter: base, Years: []int{2021, 2022, 2023}, K: 5})

	require.Len(t, res.Passages, 3)
	assert.Equal(t, "c-2023", res.Passages[2].Metadata.Text(document.KeyChunkID))
	assert.Equal(t, []string{"esg.json"}, res.Sources)

	require.Len(t, store.calls, 3)
	assert.Equal(t, call{
		query:  plan.Query,
		k:      3,
		filter: "{doc_type=esg AND company_name=台積電 AND year=2023}",
	}, store.calls[2])

	require.Len(t, res.Trace, 3)
	assert.Equal(t, StageBackfill, res.Trace[2].Stage)
	assert.Equal(t, 1, res.Trace[2].Hits)
}

func TestRetrieveBackfillUsesHalfK(t *testing.T) {
	store := &recordingStore{fn: func(string, int, searchfilter.Filter) ([]document.Passage, error) {
		return nil, nil
	}}
	o := newOrchestrator(t, store, 1)

	plan := &planner.Plan{Raw: "q", Query: "q", Variants: []string{"q"}}
	o.Retrieve(context.Background(), Request{Plan: plan, Years: []int{2021, 2022}, K: 10})

	require.Len(t, store.calls, 3)
	assert.Equal(t, 5, store.calls[1].k)
	assert.Equal(t, "{year=2021}", store.calls[1].filter)
	assert.Equal(t, "{year=2022}", store.calls[2].filter)
}

func TestRetrieveBackoffOnlyWhenRewritten(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		query       string
		wantBackoff bool
	}{
		{"rewritten", "台積電用水", "台積電 用水量", true},
		{"unchanged", "台積電 用水量", "台積電 用水量", false},
		{"padded raw", " 台積電  用水量\n", "台積電 用水量", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &recordingStore{fn: func(q string, _ int, _ searchfilter.Filter) ([]document.Passage, error) {
				if q == "台積電用水" {
					return []document.Passage{passage("raw", 2022)}, nil
				}
				return nil, nil
			}}
			o := newOrchestrator(t, store, 1)

			plan := &planner.Plan{Raw: tt.raw, Query: tt.query, Variants: []string{tt.query}}
			res := o.Retrieve(context.Background(), Request{Plan: plan})

			if tt.wantBackoff {
				require.Len(t, store.calls, 2)
				assert.Equal(t, tt.raw, store.calls[1].query)
				assert.Equal(t, 5, store.calls[1].k)
				assert.Len(t, res.Passages, 1)
				assert.Equal(t, StageBackoff, res.Trace[1].Stage)
			} else {
				assert.Len(t, store.calls, 1)
				assert.True(t, res.Empty())
			}
		})
	}
}

func TestRetrieveTreatsStoreErrorsAsEmpty(t *testing.T) {
	boom := errors.New("connection refused")
	store := &recordingStore{fn: func(q string, _ int, _ searchfilter.Filter) ([]document.Passage, error) {
		if q == "bad" {
			return nil, boom
		}
		return []document.Passage{passage("ok", 2022)}, nil
	}}
	o := newOrchestrator(t, store, 1)

	plan := &planner.Plan{Raw: "good", Query: "bad", Variants: []string{"bad", "good"}}
	res := o.Retrieve(context.Background(), Request{Plan: plan})

	require.Len(t, res.Passages, 1)
	assert.ErrorIs(t, res.Trace[0].Err, boom)
	assert.Len(t, store.calls, 2)
}

func TestRetrieveDeduplicatesAndSkipsBlankQueries(t *testing.T) {
	store := &recordingStore{fn: func(q string, _ int, _ searchfilter.Filter) ([]document.Passage, error) {
		return []document.Passage{passage("same", 2022), {Content: "no id"}}, nil
	}}
	o := newOrchestrator(t, store, 1)

	plan := &planner.Plan{Raw: "a", Query: "a", Variants: []string{"a", "  ", "b"}}
	res := o.Retrieve(context.Background(), Request{Plan: plan})

	assert.Len(t, store.calls, 2)
	assert.Len(t, res.Passages, 2)
	assert.Equal(t, []string{"esg.json", document.UnknownSource}, res.Sources)
}

func TestFanoutKeepsVariantOrderUnderConcurrency(t *testing.T) {
	variants := []string{"v0", "v1", "v2", "v3", "v4", "v5"}
	store := &recordingStore{fn: func(q string, _ int, _ searchfilter.Filter) ([]document.Passage, error) {
		var idx int
		fmt.Sscanf(q, "v%d", &idx)
		// earlier variants finish last
		time.Sleep(time.Duration(len(variants)-idx) * 5 * time.Millisecond)
		return []document.Passage{passage(q, 2022)}, nil
	}}
	o := newOrchestrator(t, store, 4)

	plan := &planner.Plan{Raw: "v0", Query: "v0", Variants: variants}
	res := o.Retrieve(context.Background(), Request{Plan: plan})

	require.Len(t, res.Passages, len(variants))
	for i, p := range res.Passages {
		assert.Equal(t, variants[i], p.Metadata.Text(document.KeyChunkID))
		assert.Equal(t, variants[i], res.Trace[i].Query)
	}
}

func TestNewRejectsNilStore(t *testing.T) {
	_, err := New(nil, retrievalConfig(1))
	assert.Error(t, err)
}
