// Command esg-rag answers questions about Taiwanese listed companies' ESG
// disclosures and ESG news over HTTP, MCP stdio, or a one-shot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// v collects flag bindings before config.LoadWith reads the file and the
// environment.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "esg-rag",
	Short: "ESG retrieval augmented question answering",
	Long: `esg-rag plans, retrieves and composes grounded answers over a vector store of
ESG report passages and ESG news articles.

Run "serve" for the HTTP API, "mcp" to expose the pipeline as MCP tools over
stdio, or "ask" to answer a single question from the terminal.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		if env := os.Getenv("ESGRAG_LOG_LEVEL"); env != "" && !cmd.Flags().Changed("log-level") {
			level = env
		}
		format, _ := cmd.Flags().GetString("log-format")
		if env := os.Getenv("ESGRAG_LOG_FORMAT"); env != "" && !cmd.Flags().Changed("log-format") {
			format = env
		}
		// stdout belongs to command output and the MCP transport
		logging.SetLogger(logging.New(os.Stderr, level, format))
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().String("store", "", "vector store backend: inmemory, pgvector, mongo")
	rootCmd.PersistentFlags().String("provider", "", "LLM provider: openai, claude, gemini, groq, cohere")

	_ = v.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	_ = v.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("provider"))
}

// loadConfig reads the file named by --config layered with ESGRAG_*
// environment variables and bound flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWith(v, path)
	if err != nil {
		return config.Config{}, err
	}
	if path != "" {
		logging.Logger().Debug("using config file", "path", path)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
