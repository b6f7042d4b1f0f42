package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/esg-rag/config"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/tokenizer"
)

func esg(src, content string) document.Passage {
	return document.Passage{Content: content, Metadata: document.Metadata{
		document.KeySource: document.String(src),
	}}
}

func news(title, company, senti, url string) document.Passage {
	return document.Passage{Content: title + " 內文", Metadata: document.MetadataFromMap(map[string]any{
		"source": "news.json", "title": title, "company_name": company, "sentiment": senti, "url": url,
	})}
}

func capture(reply string, err error) (llm.Generator, *string) {
	var sent string
	return llm.GeneratorFunc(func(_ context.Context, p, _ string) (string, error) {
		sent = p
		return reply, err
	}), &sent
}

func newComposer(gen llm.Generator, cfg config.Config, opts ...Option) *Composer {
	return New(gen, prompt.Default(), cfg, append(opts, WithLogger(logging.Discard()))...)
}

func TestComposeESG(t *testing.T) {
	gen, sent := capture("  **台積電** 數據 \n", nil)
	c := newComposer(gen, config.Default())

	ps := []document.Passage{
		esg("tsmc_2022.json", "公司: 台積電 | 年度: 2022 | 範疇一排放: 100"),
		esg("tsmc_2023.json", "公司: 台積電 | 年度: 2023 | 範疇一排放: 90"),
		esg("tsmc_2022.json", "公司: 台積電 | 年度: 2022 | 用水量: 5"),
	}
	ans, err := c.Compose(context.Background(), document.ModeESG, "台積電 範疇一排放", ps)
	require.NoError(t, err)

	assert.Equal(t, "**台積電** 數據", ans.Text)
	assert.ElementsMatch(t, []string{"tsmc_2022.json", "tsmc_2023.json"}, ans.Sources)
	assert.Equal(t, 3, ans.Used)

	assert.Contains(t, *sent, "資料來源：ESG 數據")
	assert.Contains(t, *sent, "範疇一排放: 100\n---\n公司: 台積電 | 年度: 2023")
	assert.Contains(t, *sent, "【使用者問題】\n台積電 範疇一排放")
	assert.Contains(t, *sent, "仟元")
}

func TestComposeAllModeUsesESGTemplate(t *testing.T) {
	gen, sent := capture("ok", nil)
	c := newComposer(gen, config.Default())

	_, err := c.Compose(context.Background(), document.ModeAll, "q", []document.Passage{esg("a", "x")})
	require.NoError(t, err)
	assert.Contains(t, *sent, "資料來源：全部資料")
}

func TestComposeNewsRefs(t *testing.T) {
	gen, sent := capture("新聞摘要", nil)
	c := newComposer(gen, config.Default())

	ps := []document.Passage{
		news("台積電擴大綠電採購", "台積電", "正面", "https://example.com/a"),
		{Content: "no title", Metadata: document.Metadata{document.KeySource: document.String("news.json")}},
	}
	ans, err := c.Compose(context.Background(), document.ModeNews, "台積電 新聞", ps)
	require.NoError(t, err)
	assert.Equal(t, []string{"news.json"}, ans.Sources)

	assert.Contains(t, *sent, "【新聞來源清單】\n- 台積電擴大綠電採購｜台積電｜正面｜https://example.com/a\n\n【檢索到的內容】")
	assert.Contains(t, *sent, "列點 2 則重點新聞")
}

func TestNewsRefsEmpty(t *testing.T) {
	assert.Equal(t, "", NewsRefs([]document.Passage{{Content: "x"}}))
}

func TestBuildContext(t *testing.T) {
	got, used := BuildContext(nil, tokenizer.Simple{}, 0)
	assert.Equal(t, NoContent, got)
	assert.Empty(t, used)

	ps := []document.Passage{esg("a", "台積電台積電"), esg("b", "鴻海鴻海"), esg("c", "廣達")}
	got, used = BuildContext(ps, tokenizer.Simple{}, 8)
	assert.Equal(t, "台積電台積電", got)
	assert.Len(t, used, 1, "second passage exceeds the budget")

	got, used = BuildContext(ps, tokenizer.Simple{}, 10)
	assert.Equal(t, "台積電台積電\n---\n鴻海鴻海", got)
	assert.Len(t, used, 2)

	got, used = BuildContext(ps[:1], tokenizer.Simple{}, 1)
	assert.Equal(t, "台積電台積電", got)
	assert.Len(t, used, 1, "first passage is always kept")

	got, _ = BuildContext([]document.Passage{esg("a", "<p>範疇一 <b>100</b></p>")}, nil, 0)
	assert.Equal(t, "範疇一 100", got)
}

func TestComposeFailures(t *testing.T) {
	boom := errors.New("503")
	gen, _ := capture("", boom)
	c := newComposer(gen, config.Default())

	_, err := c.Compose(context.Background(), document.ModeESG, "q", nil)
	assert.True(t, errorskg.Is(err, errorskg.ErrGeneration))
	assert.ErrorIs(t, err, boom)

	gen, _ = capture("   ", nil)
	c = newComposer(gen, config.Default())
	_, err = c.Compose(context.Background(), document.ModeESG, "q", nil)
	assert.True(t, errorskg.Is(err, errorskg.ErrGeneration))
}

func TestComposeEmptyContextPlaceholder(t *testing.T) {
	gen, sent := capture("ok", nil)
	c := newComposer(gen, config.Default())

	ans, err := c.Compose(context.Background(), document.ModeESG, "q", nil)
	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
	assert.True(t, strings.Contains(*sent, "【檢索到的內容】\n(無內容)"))
}

func TestComposeKeepsEveryRetrievedFact(t *testing.T) {
	gen, sent := capture("ok", nil)
	c := newComposer(gen, config.Default())

	ps := []document.Passage{
		esg("esg.json", "台積電 2022 廣告費用 1,200 仟元"),
		esg("news.json", "<p>台積電 新聞</p><div>2022 排放 100 噸</div>"),
		esg("blank.json", " \t "),
	}
	ans, err := c.Compose(context.Background(), document.ModeESG, "台積電 廣告費用", ps)
	require.NoError(t, err)
	assert.Contains(t, *sent, "1,200 仟元")
	assert.Contains(t, *sent, "2022 排放 100 噸")
	assert.Equal(t, []string{"esg.json", "news.json"}, ans.Sources, "passages without text are not sources")
	assert.Equal(t, 2, ans.Used)
}

func TestBuildContextSkipsEmptyPassages(t *testing.T) {
	got, used := BuildContext([]document.Passage{esg("a", ""), esg("b", "<script>x()</script>")}, nil, 0)
	assert.Equal(t, NoContent, got)
	assert.Empty(t, used)
}
