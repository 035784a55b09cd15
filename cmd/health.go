package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the index and the embedding model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			h := a.RAG.Health(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend:   %s (%s)\n", a.Config.VectorStore.Backend, a.Namespace)
			fmt.Fprintf(out, "embedder:  %s\n", h.Profile)
			fmt.Fprintf(out, "store:     %s\n", status(h.Store))
			fmt.Fprintf(out, "model:     %s\n", status(h.Embedder))
			fmt.Fprintf(out, "profile:   %s\n", status(h.ProfileMatch))
			if !h.Semantic {
				fmt.Fprintln(out, "warning:   embeddings are not semantic, answers will not be relevant")
			}
			if !h.OK() {
				return errors.Join(h.Store, h.Embedder, h.ProfileMatch)
			}
			return nil
		})
	},
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return "error: " + err.Error()
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
