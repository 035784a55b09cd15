package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
)

var (
	stream      bool
	showSources bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question about the ingested documents",
	Long: `Answer a question using only the ingested documents.

Without a question argument, questions are read line by line from stdin and
earlier answers are kept as conversation history.

Examples:
  pdf-rag query "How long is the warranty?"
  pdf-rag query --stream "Summarise chapter 2"
  pdf-rag query`,
	Args: cobra.ArbitraryArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	queryCmd.Flags().BoolVar(&showSources, "sources", false, "print the retrieved chunks after the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		out := cmd.OutOrStdout()
		if len(args) > 0 {
			_, err := ask(ctx, a, out, strings.Join(args, " "), nil)
			return err
		}

		var history []models.Message
		scanner := bufio.NewScanner(cmd.InOrStdin())
		fmt.Fprint(out, "> ")
		for scanner.Scan() {
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				fmt.Fprint(out, "> ")
				continue
			}
			resp, err := ask(ctx, a, out, question, history)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				fmt.Fprintln(out, models.UserMessage(err))
			} else {
				history = models.AppendExchange(history, question, resp.Content)
			}
			fmt.Fprint(out, "\n> ")
		}
		return scanner.Err()
	})
}

func ask(ctx context.Context, a *app.App, out io.Writer, question string, history []models.Message) (*models.PromptResponse, error) {
	var (
		resp *models.PromptResponse
		err  error
	)
	if stream {
		resp, err = a.RAG.QueryStream(ctx, question, history, func(fragment string) error {
			_, werr := fmt.Fprint(out, fragment)
			return werr
		})
		if err == nil {
			fmt.Fprintln(out)
		}
	} else {
		resp, err = a.RAG.Query(ctx, question, history)
		if err == nil {
			fmt.Fprintln(out, resp.Content)
		}
	}
	if err != nil {
		return nil, err
	}

	if showSources && len(resp.Matches) > 0 {
		fmt.Fprintf(out, "sources: %s\n", strings.Join(resp.Matches.DocumentIDs(), ", "))
		for i, m := range resp.Matches {
			fmt.Fprintf(out, "  [%d] %.3f %s#%d %s\n", i+1, m.Distance, m.Chunk.SourceDocumentID, m.Chunk.ChunkIndex, helper.Truncate(m.Chunk.Text, 80))
		}
	}
	return resp, nil
}
