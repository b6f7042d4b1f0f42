package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/rag/document"
)

func newFunnel() *Funnel {
	return New(config.DefaultDomain())
}

func TestExtractYears(t *testing.T) {
	tests := []struct {
		text string
		want []int
	}{
		{"台積電 2021-2023 溫室氣體排放", []int{2021, 2022, 2023}},
		{"2022 到 2024 用水", []int{2022, 2023, 2024}},
		{"2021至2022", []int{2021, 2022}},
		{"2020~2021 與 2023", []int{2020, 2021, 2023}},
		{"2021–2021", []int{2021}},
		{"2024-2021", []int{2024}},
		{"2023 2021 2023", []int{2021, 2023}},
		{"1999 年", []int{}},
		{"沒有年份", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractYears(tt.text))
		})
	}
}

func TestCompanyHints(t *testing.T) {
	f := newFunnel()

	h := f.CompanyHints("2330 與 2317 的碳排，還有台積電")
	assert.Equal(t, []string{"2330", "2317"}, h.Codes)
	assert.Equal(t, []string{"台積電"}, h.Names)

	// glued digits and unknown codes are ignored
	h = f.CompanyHints("編號12330 或 9999 或 A2330")
	assert.True(t, h.Empty())

	// a name must equal the whole Han run
	h = f.CompanyHints("台積電的溫室氣體排放")
	assert.Empty(t, h.Names)
}

func TestSuffixCandidatesNeverFilter(t *testing.T) {
	f := newFunnel()

	text := "大立光 和 台積電 比較"
	assert.Equal(t, []string{"大立光", "台積電"}, f.SuffixCandidates(text))

	flt := f.BuildFilter(document.ModeESG, text)
	c, ok := flt.Get(document.KeyCompanyName)
	require.True(t, ok)
	assert.Equal(t, "company_name=台積電", c.String())
}

func TestBuildFilter(t *testing.T) {
	f := newFunnel()

	tests := []struct {
		name string
		mode document.Mode
		text string
		want string
	}{
		{"no hints", document.ModeESG, "溫室氣體排放", "{}"},
		{"single name", document.ModeESG, "台積電 用水量", "{company_name=台積電}"},
		{"names become set", document.ModeAll, "台積電 vs 鴻海", "{company_name in [台積電,鴻海]}"},
		{"codes win over names", document.ModeESG, "台積電 2317", "{company_code=2317}"},
		{"news sentiment", document.ModeNews, "鴻海 Negative 新聞", "{company_name=鴻海 AND sentiment=負面}"},
		{"positive checked first", document.ModeNews, "正面 還是 負面", "{sentiment=正面}"},
		{"neutral synonym", document.ModeNews, "neutral news", "{sentiment=中立}"},
		{"sentiment ignored outside news", document.ModeESG, "正面 新聞", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.BuildFilter(tt.mode, tt.text).String())
		})
	}
}

func TestCombined(t *testing.T) {
	f := newFunnel()

	flt, years := f.Combined(document.ModeESG, "台積電 2021-2023 溫室氣體排放")
	assert.Equal(t, []int{2021, 2022, 2023}, years)
	assert.Equal(t, "{doc_type=esg AND company_name=台積電 AND year in [2021,2022,2023]}", flt.String())
	assert.Equal(t, map[string]any{"$and": []any{
		map[string]any{"doc_type": "esg"},
		map[string]any{"company_name": "台積電"},
		map[string]any{"year": map[string]any{"$in": []any{int64(2021), int64(2022), int64(2023)}}},
	}}, flt.Where())

	flt, years = f.Combined(document.ModeNews, "台積電 2022 新聞")
	assert.Nil(t, years)
	assert.Equal(t, "{doc_type=news AND company_name=台積電}", flt.String())

	flt, years = f.Combined(document.ModeAll, "2022")
	assert.Nil(t, years)
	assert.True(t, flt.Empty())
}
