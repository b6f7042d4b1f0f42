package esg

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/esg-rag/config"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/guidance"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
	"github.com/sweetpotato0/esg-rag/session"
	"github.com/sweetpotato0/esg-rag/vector"
)

// scripted answers each prompt family with a fixed reply.
type scripted struct {
	mu      sync.Mutex
	prompts []string
	fail    map[string]error
}

var replies = []struct{ prefix, reply string }{
	{"你是查詢重寫器", "台積電 2022 溫室氣體 排放"},
	{"請針對以下查詢產生", "台積電 碳排放 2022\n台積電 範疇一"},
	{"使用者剛輸入：「", "GUIDE"},
	{"使用者剛輸入：\n", "EMPTY"},
	{"你是一位 ESG 數據整理助理", "ESG ANSWER"},
	{"你是一位 ESG 文章助理", "NEWS ANSWER"},
	{"請為以下聊天主題", "台積電\n碳排放追蹤與年度比較分析報告"},
	{"你是一位精準的助理", " SUMMARY "},
}

func (s *scripted) Complete(_ context.Context, p, _ string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	for _, r := range replies {
		if strings.HasPrefix(p, r.prefix) {
			if err := s.fail[r.prefix]; err != nil {
				return "", err
			}
			return r.reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func (s *scripted) sent(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type storeCall struct {
	query  string
	filter string
}

type fakeStore struct {
	mu       sync.Mutex
	calls    []storeCall
	passages []document.Passage
}

func (f *fakeStore) Search(_ context.Context, q string, _ int, flt searchfilter.Filter) ([]document.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{query: q, filter: flt.String()})
	return f.passages, nil
}

var _ vector.Store = (*fakeStore)(nil)

func tsmc(year int64) document.Passage {
	return document.Passage{
		Content: "台積電 範疇一排放",
		Metadata: document.Metadata{
			document.KeySource:      document.String("esg_2022.json"),
			document.KeyDocType:     document.String("esg"),
			document.KeyChunkID:     document.String("c1"),
			document.KeyCompanyName: document.String("台積電"),
			document.KeyCompanyCode: document.String("2330"),
			document.KeyYear:        document.Int(year),
		},
	}
}

func newPipeline(t *testing.T, gen *scripted, store vector.Store, opts ...Option) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Retrieval.FanoutWorkers = 1
	opts = append([]Option{WithLogger(logging.Discard()), WithRand(rand.New(rand.NewSource(7)))}, opts...)
	p, err := New(gen, store, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAnswerComposesGroundedReply(t *testing.T) {
	gen := &scripted{}
	store := &fakeStore{passages: []document.Passage{tsmc(2022)}}
	p := newPipeline(t, gen, store)

	resp, err := p.Answer(context.Background(), "台積電 2022 溫室氣體", nil, "ESG")
	require.NoError(t, err)

	assert.Equal(t, "ESG ANSWER", resp.Answer)
	assert.Equal(t, []string{"esg_2022.json"}, resp.Sources)
	assert.False(t, resp.Guidance)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, "台積電 2022 溫室氣體 排放", resp.Plan.Query)
	assert.Len(t, resp.Plan.Variants, 3)

	require.Len(t, store.calls, 3)
	assert.Equal(t, resp.Plan.Query, store.calls[0].query)
	assert.Contains(t, store.calls[0].filter, "doc_type=esg")
	assert.Contains(t, store.calls[0].filter, "company_name=台積電")
	assert.Contains(t, store.calls[0].filter, "year")

	answers := gen.sent("你是一位 ESG 數據整理助理")
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0], "資料來源：ESG 數據")
	assert.Contains(t, answers[0], "【使用者問題】\n台積電 2022 溫室氣體")
}

func TestAnswerVagueTurnGetsGuidance(t *testing.T) {
	gen := &scripted{}
	store := &fakeStore{passages: []document.Passage{tsmc(2022)}}
	p := newPipeline(t, gen, store)

	resp, err := p.Answer(context.Background(), "你好，可以查什麼？", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "GUIDE", resp.Answer)
	assert.True(t, resp.Guidance)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Nil(t, resp.Plan)
	assert.Empty(t, gen.sent("你是一位 ESG 數據整理助理"))
	for _, c := range store.calls {
		assert.Equal(t, "{doc_type=esg}", c.filter)
	}
}

func TestAnswerEmptyRetrieval(t *testing.T) {
	t.Run("suggest", func(t *testing.T) {
		gen := &scripted{}
		p := newPipeline(t, gen, &fakeStore{})

		resp, err := p.Answer(context.Background(), "火星公司 用水量", nil, "esg")
		require.NoError(t, err)
		assert.Equal(t, "EMPTY", resp.Answer)
		assert.True(t, resp.Guidance)
		assert.Equal(t, []string{}, resp.Sources)
		assert.NotNil(t, resp.Plan)
	})

	t.Run("static", func(t *testing.T) {
		gen := &scripted{}
		p := newPipeline(t, gen, &fakeStore{}, WithSuggestOnEmpty(false))

		resp, err := p.Answer(context.Background(), "火星公司 用水量", nil, "esg")
		require.NoError(t, err)
		assert.Equal(t, guidance.NoResultsMessage, resp.Answer)
		assert.Empty(t, gen.sent("使用者剛輸入：\n"))
	})
}

func TestAnswerSurfacesGenerationFailure(t *testing.T) {
	gen := &scripted{fail: map[string]error{"你是一位 ESG 數據整理助理": errors.New("503")}}
	p := newPipeline(t, gen, &fakeStore{passages: []document.Passage{tsmc(2022)}})

	resp, err := p.Answer(context.Background(), "台積電 用水量", nil, "all")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errorskg.ErrGeneration)
}

func TestAnswerRewriteFailureDegrades(t *testing.T) {
	gen := &scripted{fail: map[string]error{
		"你是查詢重寫器":   errors.New("timeout"),
		"請針對以下查詢產生": errors.New("timeout"),
	}}
	store := &fakeStore{passages: []document.Passage{tsmc(2022)}}
	p := newPipeline(t, gen, store)

	resp, err := p.Answer(context.Background(), "  台積電 用水量 ", nil, "all")
	require.NoError(t, err)
	assert.Equal(t, "台積電 用水量", resp.Plan.Query)
	assert.Equal(t, []string{"台積電 用水量"}, resp.Plan.Variants)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "{company_name=台積電}", store.calls[0].filter)
}

func TestAnswerNewsMode(t *testing.T) {
	gen := &scripted{}
	news := document.Passage{
		Content: "鴻海 綠能 投資",
		Metadata: document.Metadata{
			document.KeySource:      document.String("news.json"),
			document.KeyDocType:     document.String("news"),
			document.KeyChunkID:     document.String("n1"),
			document.KeyTitle:       document.String("鴻海加碼綠能"),
			document.KeyURL:         document.String("https://example.com/n1"),
			document.KeyCompanyName: document.String("鴻海"),
			document.KeySentiment:   document.String("正面"),
		},
	}
	store := &fakeStore{passages: []document.Passage{news}}
	p := newPipeline(t, gen, store)

	resp, err := p.Answer(context.Background(), "鴻海 positive 新聞", session.History{{User: "hi", Assistant: "hello"}}, "news")
	require.NoError(t, err)
	assert.Equal(t, "NEWS ANSWER", resp.Answer)
	assert.Equal(t, []string{"news.json"}, resp.Sources)
	assert.Equal(t, "{doc_type=news AND company_name=鴻海 AND sentiment=正面}", store.calls[0].filter)

	sent := gen.sent("你是一位 ESG 文章助理")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "- 鴻海加碼綠能｜鴻海｜正面｜https://example.com/n1")
	assert.Contains(t, gen.sent("你是查詢重寫器")[0], "使用者：hi\n助理：hello")
}

func TestTitle(t *testing.T) {
	gen := &scripted{}
	p := newPipeline(t, gen, &fakeStore{})

	assert.Equal(t, DefaultTitle, p.Title(context.Background(), "   "))
	assert.Empty(t, gen.sent("請為以下聊天主題"))

	assert.Equal(t, "台積電碳排放追蹤與年度比較分", p.Title(context.Background(), "台積電 碳排"))

	failing := newPipeline(t, &scripted{fail: map[string]error{"請為以下聊天主題": errors.New("down")}}, &fakeStore{})
	assert.Equal(t, DefaultTitle, failing.Title(context.Background(), "台積電 碳排"))
}

func TestClampTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, ClampTitle(" \n "))
	assert.Equal(t, "ab", ClampTitle("a\r\nb"))
	assert.Equal(t, "一二三四五六七八九十一二三四", ClampTitle("一二三四五六七八九十一二三四五六"))
}

func TestSummarize(t *testing.T) {
	gen := &scripted{}
	p := newPipeline(t, gen, &fakeStore{})

	out, err := p.Summarize(context.Background(), "esg", []Conversation{
		{Title: "碳排", History: session.History{{User: "台積電 2022 碳排", Assistant: "100 噸"}}},
		{History: session.History{{User: "鴻海 新聞", Assistant: "兩則"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SUMMARY", out)

	sent := gen.sent("你是一位精準的助理")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "（模式：esg）")
	assert.Contains(t, sent[0], "【碳排】\n使用者：台積電 2022 碳排\n助理：100 噸\n\n---\n\n【未命名對話】\n使用者：鴻海 新聞\n助理：兩則")

	failing := newPipeline(t, &scripted{fail: map[string]error{"你是一位精準的助理": errors.New("down")}}, &fakeStore{})
	_, err = failing.Summarize(context.Background(), "all", nil)
	assert.ErrorIs(t, err, errorskg.ErrGeneration)
}

func TestRenderConversationsEmpty(t *testing.T) {
	assert.Equal(t, "(無內容)", RenderConversations(nil))
}

func TestHits(t *testing.T) {
	anon := document.Passage{Content: "abc"}
	hits := Hits([]document.Passage{tsmc(2022), anon})

	assert.Equal(t, Hit{Source: "esg_2022.json", CompanyCode: "2330", CompanyName: "台積電", Year: "2022", ChunkID: "c1"}, hits[0])
	assert.Equal(t, "a9993e36", hits[1].ChunkID)
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(nil, &fakeStore{}, config.Default())
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)

	_, err = New(&scripted{}, nil, config.Default())
	assert.Error(t, err)
}
