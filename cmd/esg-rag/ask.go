package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/middleware/logger"
	"github.com/sweetpotato0/esg-rag/middleware/validator"
	"github.com/sweetpotato0/esg-rag/rag/esg"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Long: `ask runs one question through the pipeline and prints the answer followed by
its sources. The question is read from the arguments, or from stdin when none
are given.`,
	Example: `  esg-rag ask --mode esg "台積電 2022 年的範疇一排放量"
  echo "鴻海 正面新聞" | esg-rag ask --mode news`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		if question == "" {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read question: %w", err)
			}
			question = strings.TrimSpace(string(raw))
		}
		mode, _ := cmd.Flags().GetString("mode")
		withTitle, _ := cmd.Flags().GetBool("title")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		chain := middleware.NewChain(
			logger.NewRequestLogger(nil),
			validator.NewInputValidator(validator.ValidText(), validator.MaxRunes(cfg.Server.MaxQuestionRunes)),
		)
		mctx := middleware.NewContext(cmd.Context())
		mctx.Question = question
		mctx.Mode = mode
		mctx.Client = "cli"
		if err := chain.Execute(mctx, middleware.AnswerHandler(a.pipeline)); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if withTitle {
			fmt.Fprintf(out, "# %s\n\n", a.pipeline.Title(cmd.Context(), question))
		}
		printResponse(out, mctx.Response)
		return nil
	},
}

func printResponse(w io.Writer, resp *esg.Response) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "資料來源：")
	for _, src := range resp.Sources {
		fmt.Fprintf(w, "  - %s\n", src)
	}
}

func init() {
	askCmd.Flags().String("mode", "esg", "answer mode: esg or news")
	askCmd.Flags().Bool("title", false, "also generate a conversation title")
	rootCmd.AddCommand(askCmd)
}
