// Package mcp exposes the answer pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/middleware/errorhandler"
	"github.com/sweetpotato0/esg-rag/middleware/logger"
	"github.com/sweetpotato0/esg-rag/middleware/validator"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/session"
)

const (
	ToolQuery     = "esg_query"
	ToolTitle     = "esg_title"
	ToolSummarize = "esg_summarize"
)

// Pipeline is the backend served over MCP. *esg.Pipeline implements it.
type Pipeline interface {
	middleware.Answerer
	Title(ctx context.Context, firstUser string) string
	Summarize(ctx context.Context, mode string, convs []esg.Conversation) (string, error)
}

// ServerInfo is advertised to MCP clients.
type ServerInfo struct {
	Name    string
	Version string
}

// Option configures the server.
type Option func(*serverConfig)

type serverConfig struct {
	info     ServerInfo
	logger   *slog.Logger
	chain    *middleware.Chain
	maxRunes int
}

// WithServerInfo overrides the advertised implementation.
func WithServerInfo(info ServerInfo) Option {
	return func(cfg *serverConfig) {
		if info.Name != "" {
			cfg.info.Name = info.Name
		}
		if info.Version != "" {
			cfg.info.Version = info.Version
		}
	}
}

// WithLogger configures logging. Stdio servers must not log to stdout.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *serverConfig) { cfg.logger = l }
}

// WithChain replaces the middleware chain around esg_query.
func WithChain(c *middleware.Chain) Option {
	return func(cfg *serverConfig) { cfg.chain = c }
}

// WithMaxQuestionRunes bounds question length; 0 disables the check.
func WithMaxQuestionRunes(n int) Option {
	return func(cfg *serverConfig) { cfg.maxRunes = n }
}

// QueryArgs are the esg_query arguments.
type QueryArgs struct {
	Question string     `json:"question" jsonschema:"Question about company ESG metrics or ESG news, e.g. 台積電 2021-2023 溫室氣體排放"`
	Mode     string     `json:"mode,omitempty" jsonschema:"Corpus partition: esg, news or all (default all)"`
	History  [][]string `json:"history,omitempty" jsonschema:"Earlier turns as [user, assistant] pairs, oldest first"`
}

// QueryResult is the structured esg_query output.
type QueryResult struct {
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Guidance bool     `json:"guidance"`
}

// TitleArgs are the esg_title arguments.
type TitleArgs struct {
	FirstUser string `json:"first_user" jsonschema:"First user message of the conversation"`
}

// Conversation is one titled chat passed to esg_summarize.
type Conversation struct {
	Title   string     `json:"title,omitempty" jsonschema:"Conversation title"`
	History [][]string `json:"history" jsonschema:"Turns as [user, assistant] pairs, oldest first"`
}

// SummarizeArgs are the esg_summarize arguments.
type SummarizeArgs struct {
	Mode  string         `json:"mode,omitempty" jsonschema:"Mode label shown in the summary"`
	Items []Conversation `json:"items" jsonschema:"Conversations to summarise"`
}

// pairs converts [user, assistant] pairs; missing halves are empty.
func pairs(in [][]string) session.History {
	if len(in) == 0 {
		return nil
	}
	out := make(session.History, 0, len(in))
	for _, p := range in {
		var t session.Turn
		if len(p) > 0 {
			t.User = p[0]
		}
		if len(p) > 1 {
			t.Assistant = p[1]
		}
		out = append(out, t)
	}
	return out
}

// NewServer builds an MCP server exposing the pipeline tools.
func NewServer(p Pipeline, opts ...Option) *sdkmcp.Server {
	cfg := serverConfig{info: ServerInfo{Name: "esg-rag", Version: "0.1.0"}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("mcp")
	}
	if cfg.chain == nil {
		cfg.chain = middleware.NewChain(
			logger.NewRequestLogger(cfg.logger),
			errorhandler.NewErrorHandler(nil),
			validator.NewInputValidator(validator.ValidText(), validator.MaxRunes(cfg.maxRunes)),
		)
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    cfg.info.Name,
		Version: cfg.info.Version,
		Title:   "ESG metrics and news Q&A",
	}, nil)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolQuery,
		Description: "Answer a question from the ESG metrics and news corpus. Vague questions return suggestions instead of facts.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a QueryArgs) (*sdkmcp.CallToolResult, QueryResult, error) {
		mctx := middleware.NewContext(ctx)
		mctx.Question = a.Question
		mctx.Mode = a.Mode
		mctx.History = pairs(a.History)
		mctx.Client = ToolQuery

		if err := cfg.chain.Execute(mctx, middleware.AnswerHandler(p)); err != nil {
			return nil, QueryResult{}, err
		}
		out := QueryResult{
			Answer:   mctx.Response.Answer,
			Sources:  mctx.Response.Sources,
			Guidance: mctx.Response.Guidance,
		}
		if out.Sources == nil {
			out.Sources = []string{}
		}
		return textResult(renderQuery(out)), out, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolTitle,
		Description: "Generate a short Chinese title (at most 14 characters) for a conversation",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a TitleArgs) (*sdkmcp.CallToolResult, any, error) {
		return textResult(p.Title(ctx, a.FirstUser)), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ToolSummarize,
		Description: "Summarise several conversations into Markdown key facts, open questions and next steps",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, a SummarizeArgs) (*sdkmcp.CallToolResult, any, error) {
		convs := make([]esg.Conversation, 0, len(a.Items))
		for _, it := range a.Items {
			convs = append(convs, esg.Conversation{Title: it.Title, History: pairs(it.History)})
		}
		summary, err := p.Summarize(ctx, a.Mode, convs)
		if err != nil {
			cfg.logger.Error("summarize failed", "error", err)
			return nil, nil, err
		}
		return textResult(summary), nil, nil
	})

	return server
}

// Serve runs the server over stdin/stdout until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, server *sdkmcp.Server) error {
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp: stdio server stopped: %w", err)
	}
	return nil
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func renderQuery(r QueryResult) string {
	if len(r.Sources) == 0 {
		return r.Answer
	}
	return r.Answer + "\n\n資料來源：" + strings.Join(r.Sources, "、")
}
