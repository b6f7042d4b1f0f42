package prompt

import "fmt"

// Names of the built-in templates.
const (
	Rewrite    = "rewrite"
	Expand     = "expand"
	Guide      = "guide"
	Empty      = "empty"
	AnswerESG  = "answer_esg"
	AnswerNews = "answer_news"
	Title      = "title"
	Summarize  = "summarize"
)

// Rewrite vars: Companies []string, History string, Input string.
const rewriteTemplate = `你是查詢重寫器，目標是提升 ESG 檢索的召回率。
請把使用者問題改寫成【單行關鍵詞查詢】。
規則：
- 若提到公司請修改成最相近的，{{quoteJoin .Companies ", "}}。
- 若有年份範圍（如 2021-2024），請展開為每一年（2021 2022 2023 2024）。
- 對 ESG 指標使用常見同義詞。
- 只輸出一行關鍵詞串，詞與詞之間用空格分隔，不要加標點或解釋。

【對話脈絡】
{{.History}}

【使用者當前問題】
{{.Input}}

只輸出一行查詢關鍵詞。
`

// Expand vars: N int, Query string.
const expandTemplate = `請針對以下查詢產生 {{.N}} 個互補或同義的檢索問法（每行一個、勿編號）：
{{.Query}}

變化方向：同義詞、欄位別名、補充公司/年份關鍵詞、細化指標名。`

// Guide vars: Input, ModeLine string; Companies, Fields, Years, NewsTags,
// Examples []string.
const guideTemplate = `使用者剛輸入：「{{.Input}}」
引導使用者繼續查 ESG/新聞資料。
說明需要哪些關鍵資訊（公司/代號、年份、指標或新聞）。
了解使用者問題，給予回覆，
不要提供任何數字或事實內容，不要假裝已找到資料。
語氣自然，不要制式公文口吻。

{{.ModeLine}}

（以下是根據你輸入所檢索到的相關候選詞，請自行挑選合理組合，不要逐條照抄）
- 公司/代號：{{orNone .Companies}}
- 指標/欄位（ESG）：{{orNone .Fields}}
- 年份（ESG）：{{orNone .Years}}
- 新聞分類/情緒（News）：{{orNone .NewsTags}}
{{range .Examples}}
• {{.}}{{end}}
`

// Empty vars: Input string.
const emptyTemplate = `使用者剛輸入：
「{{.Input}}」

但在向量資料庫中沒有找到任何相關內容。
請你用【繁體中文】自然地引導他繼續對話。
請：
1. 先親切說明「沒找到」的可能原因（簡短、自然）。
2. 問他想查 ESG 指標或新聞？哪家公司（名稱或代號）？哪一年或年份範圍？
3. 給 2–3 句可直接複製的查詢建議。
語氣溫和自然，不要太制式。
`

// AnswerESG vars: Label, Context, Query string.
const answerESGTemplate = `你是一位 ESG 數據整理助理，請僅根據下列【檢索到的內容】輸出，禁止臆測或引用外部資料。
資料來源：{{.Label}}

【輸出目標】
以「公司主題 → 指標 → 年份值」的格式輸出，但**清單僅限 1–2 個「最相關關鍵字」**；其他指標請列在文末「次相關可查詢」。
判斷相關性優先順序：
1) 使用者問題中明確提到的指標名稱（必選）
2) 與使用者關鍵詞最接近、且在內容中出現頻率較高者
3) 最近年度有數據者

【輸出格式（嚴禁使用表格或程式碼區塊）】
 <公司名稱> 數據
 **<指標名稱> (<原單位>)**
<年份>: <數值>（原單位：<原單位>）
<年份>: <數值>（原單位：<原單位>）
（每個指標獨立成區塊，年份由舊到新；主清單最多 2 個指標）

 **指標說明**：
• 針對主清單中的每個指標，各以 1–2 句白話說明其意義/衡量方向。

 **總結與分析**：
• 以 1–3 句總結主清單指標的趨勢（上升/下降/波動）、最高/最低年份與數值、近一年相對前一年的變化(% )；資料不足即明說。

 **次相關可查詢**：
• 列出最多 5 個與問題次相關但未列入主清單的「指標名稱」（只列名稱，不要附年份與數值）。

【排版規則】
1) 若單位為「仟元」，請自動換算為「元」並加上千分位（例：3,633,000）。
2) 其他單位（噸CO2e、kWh、人、百分比等）保留原單位；欄位文字若已帶單位則沿用。
3) 年份用阿拉伯數字，依時間由舊到新；缺值可略過或寫「該項數值未提供」。
4) 僅當使用者問題沒指名指標時，才依規則自動挑選最相關 1–2 個；若使用者點名多個指標，請以使用者指定為主（可超過 2 個）。
5) 重點標題、指標一定用粗體呈現，與資料間間隔一行

【檢索到的內容】
{{.Context}}

【使用者問題】
{{.Query}}
`

// AnswerNews vars: Refs, Context, Query string.
const answerNewsTemplate = `你是一位 ESG 文章助理。請只根據下列檢索內容作答。
回覆規則：
務必做好排版、重點加粗、換行等等
列點 2 則重點新聞：其他指標請列在文末「次相關可查詢」。
每一條用『標題（若有公司名與情緒可附上）』並附上 URL，不要顯示全部網址，用markdown
依照內容給予1-2簡短的介紹
新聞後，提供簡介總結2-4句話重點（只用已檢索到的 content）。
{{.Refs}}【檢索到的內容】
{{.Context}}

【使用者問題】
{{.Query}}
`

// Title vars: Input string.
const titleTemplate = `請為以下聊天主題生成一個精簡中文小標題，14 個中文字以內，不要加引號：
{{.Input}}
只輸出標題本身。`

// Summarize vars: Mode, Conversations string.
const summarizeTemplate = `你是一位精準的助理。請針對下列多段對話（模式：{{.Mode}}）做整合摘要，要求：
- 先給 2–3 行的總結（重點/決策/結論）
- 接著條列：關鍵事實/數據（保留數值與單位）、未解決問題、下一步行動清單
- 語氣精簡專業，輸出為 Markdown，不要加入多餘前言

對話內容：
{{.Conversations}}
`

var builtins = map[string]string{
	Rewrite:    rewriteTemplate,
	Expand:     expandTemplate,
	Guide:      guideTemplate,
	Empty:      emptyTemplate,
	AnswerESG:  answerESGTemplate,
	AnswerNews: answerNewsTemplate,
	Title:      titleTemplate,
	Summarize:  summarizeTemplate,
}

// Default returns a manager with every built-in template registered.
// Callers may Override individual templates afterwards.
func Default() *Manager {
	m := NewManager()
	for name, content := range builtins {
		if err := m.RegisterString(name, content); err != nil {
			panic(fmt.Sprintf("prompt: builtin %s: %v", name, err))
		}
	}
	return m
}
