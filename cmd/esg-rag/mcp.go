package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/esg-rag/mcp"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the pipeline as MCP tools over stdio",
	Long: `mcp registers esg_query, esg_title and esg_summarize and speaks the Model
Context Protocol on stdin/stdout. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		server := mcp.NewServer(a.pipeline,
			mcp.WithServerInfo(mcp.ServerInfo{Name: "esg-rag", Version: version}),
			mcp.WithLogger(logging.WithComponent("mcp")),
			mcp.WithMaxQuestionRunes(cfg.Server.MaxQuestionRunes),
		)
		return mcp.Serve(ctx, server)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
