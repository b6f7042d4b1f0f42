// Package config holds the process-wide, read-only configuration of the
// query service: retrieval tunables, the company whitelist and phrase
// tables, and backend connection settings.
package config

import "time"

// Config is built once at startup and passed by value to components.
type Config struct {
	Retrieval Retrieval `mapstructure:"retrieval"`
	Domain    Domain    `mapstructure:"domain"`
	LLM       LLM       `mapstructure:"llm"`
	Embedding Embedding `mapstructure:"embedding"`
	Store     Store     `mapstructure:"store"`
	Redis     Redis     `mapstructure:"redis"`
	Server    Server    `mapstructure:"server"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Retrieval tunes planning and retrieval.
type Retrieval struct {
	TopK          int `mapstructure:"top_k"`
	HistoryTurns  int `mapstructure:"history_turns"`
	Variants      int `mapstructure:"variants"`
	MinUniqueDocs int `mapstructure:"min_unique_docs"`
	BackfillMinK  int `mapstructure:"backfill_min_k"`
	FanoutWorkers int `mapstructure:"fanout_workers"`
	// MaxContextTokens caps the answer context; 0 disables the budget.
	MaxContextTokens int            `mapstructure:"max_context_tokens"`
	SuggestOnEmpty   bool           `mapstructure:"suggest_on_empty"`
	Guidance         GuidanceSample `mapstructure:"guidance"`
}

// GuidanceSample sizes the metadata sampling behind guidance replies.
type GuidanceSample struct {
	Variants int `mapstructure:"variants"`
	K        int `mapstructure:"k"`
	MaxEach  int `mapstructure:"max_each"`
}

// Company is one whitelisted issuer.
type Company struct {
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`
}

// SentimentBucket maps synonyms onto the label stored in news metadata.
type SentimentBucket struct {
	Label    string   `mapstructure:"label"`
	Keywords []string `mapstructure:"keywords"`
}

// Domain carries the fixed lookup tables. Order is significant where a
// first match wins.
type Domain struct {
	Companies       []Company         `mapstructure:"companies"`
	CompanySuffixes []string          `mapstructure:"company_suffixes"`
	VaguePhrases    []string          `mapstructure:"vague_phrases"`
	VagueExact      []string          `mapstructure:"vague_exact"`
	Sentiments      []SentimentBucket `mapstructure:"sentiments"`
}

// CompanyNames returns the whitelisted names in configuration order.
func (d Domain) CompanyNames() []string {
	out := make([]string, 0, len(d.Companies))
	for _, c := range d.Companies {
		out = append(out, c.Name)
	}
	return out
}

// LLM selects the text generation backend.
type LLM struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// RewriteModel and RewriteTemperature drive query rewriting and
	// expansion. Empty model reuses Model.
	RewriteModel       string        `mapstructure:"rewrite_model"`
	RewriteTemperature float64       `mapstructure:"rewrite_temperature"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// Embedding selects the query embedder.
type Embedding struct {
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`
}

// Store selects the vector store backend.
type Store struct {
	Backend string `mapstructure:"backend"`
	// CorpusPath is a JSONL export loaded by the inmemory backend.
	CorpusPath string   `mapstructure:"corpus_path"`
	Postgres   Postgres `mapstructure:"postgres"`
	Mongo      Mongo    `mapstructure:"mongo"`
}

// Postgres configures the pgvector backend.
type Postgres struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	Setup bool   `mapstructure:"setup"`
}

// Mongo configures the Atlas vector search backend.
type Mongo struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	Index      string `mapstructure:"index"`
}

// Redis configures conversation history persistence. An empty Addr keeps
// history in process memory.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr             string        `mapstructure:"addr"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	Burst            int           `mapstructure:"burst"`
	MaxQuestionRunes int           `mapstructure:"max_question_runes"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// Telemetry configures tracing.
type Telemetry struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

const (
	BackendInMemory = "inmemory"
	BackendPGVector = "pgvector"
	BackendMongo    = "mongo"

	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderCohere = "cohere"
)

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Retrieval: Retrieval{
			TopK:           5,
			HistoryTurns:   15,
			Variants:       5,
			MinUniqueDocs:  1,
			BackfillMinK:   3,
			FanoutWorkers:  4,
			SuggestOnEmpty: true,
			Guidance: GuidanceSample{
				Variants: 2,
				K:        20,
				MaxEach:  8,
			},
		},
		Domain: DefaultDomain(),
		LLM: LLM{
			Provider:           ProviderOpenAI,
			Model:              "gpt-4o-mini",
			Temperature:        0.3,
			MaxTokens:          1000,
			RewriteTemperature: 0,
			Timeout:            60 * time.Second,
		},
		Embedding: Embedding{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 64,
		},
		Store: Store{
			Backend: BackendInMemory,
			Postgres: Postgres{
				Table: "esg_passages",
			},
			Mongo: Mongo{
				URI:        "mongodb://localhost:27017",
				Database:   "esg_rag",
				Collection: "passages",
				Index:      "passage_vector_index",
			},
		},
		Redis: Redis{
			Prefix: "esgrag:",
			TTL:    24 * time.Hour,
		},
		Server: Server{
			Addr:             ":8000",
			RateLimit:        5,
			Burst:            10,
			MaxQuestionRunes: 2000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
		},
		Telemetry: Telemetry{
			ServiceName: "esg-rag",
		},
	}
}

// DefaultDomain returns the built-in whitelist and phrase tables.
func DefaultDomain() Domain {
	return Domain{
		Companies: []Company{
			{Code: "2330", Name: "台積電"},
			{Code: "2317", Name: "鴻海"},
			{Code: "2454", Name: "聯發科"},
			{Code: "2881", Name: "富邦金"},
			{Code: "2412", Name: "中華電"},
			{Code: "2382", Name: "廣達"},
			{Code: "2308", Name: "台達電"},
			{Code: "2882", Name: "國泰金"},
			{Code: "2891", Name: "中信金"},
			{Code: "3711", Name: "日月光投控"},
		},
		CompanySuffixes: []string{"公司", "科技", "電子", "電", "光", "鋼", "化", "金", "銀", "銀行", "控股", "集團"},
		VaguePhrases: []string{
			"可以查", "能查", "查什麼", "有哪些", "有什麼", "能問", "幫我查", "幫我看", "您好",
			"怎麼查", "哪些資料", "我想知道", "介紹一下", "怎麼用", "怎麼開始", "嗨", "你好", "哈囉",
		},
		VagueExact: []string{"", "？", "help", "help me", "hi", "嗨"},
		Sentiments: []SentimentBucket{
			{Label: "正面", Keywords: []string{"正面", "positive", "pos"}},
			{Label: "負面", Keywords: []string{"負面", "negative", "neg"}},
			{Label: "中立", Keywords: []string{"中立", "neutral", "neu"}},
		},
	}
}
