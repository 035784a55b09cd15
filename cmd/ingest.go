package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
	"pdf-rag/internal/dedup"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>...",
	Short: "Add PDF files to the index",
	Long: `Extract, chunk and embed each PDF and store it in the index.

A file whose content was already ingested is skipped, whatever its name.

Examples:
  pdf-rag ingest manual.pdf
  pdf-rag ingest docs/*.pdf
  pdf-rag ingest --dry-run manual.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var dryRun bool

func init() {
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "extract and chunk only, store nothing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if dryRun {
		return previewIngest(cmd, args)
	}
	failed := 0
	err := withApp(cmd, func(ctx context.Context, a *app.App) error {
		for _, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				log.Error().Err(err).Str("file", path).Msg("Error reading file")
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
				failed++
				continue
			}

			name := filepath.Base(path)
			n, err := a.RAG.Ingest(ctx, name, raw)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, models.UserMessage(err))
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: stored %d chunks\n", name, n)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files were not ingested", failed, len(args))
	}
	return nil
}

// previewIngest reports what ingest would store without loading a model or opening the index.
func previewIngest(cmd *cobra.Command, args []string) error {
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.Overlap())
	if err != nil {
		return err
	}
	extractor := parser.NewPDFExtractor()
	out := cmd.OutOrStdout()
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		if !parser.IsPDF(raw) {
			fmt.Fprintf(out, "%s: not a PDF\n", name)
			continue
		}
		ext, err := extractor.ExtractText(cmd.Context(), raw)
		if err != nil {
			fmt.Fprintf(out, "%s: %s\n", name, models.UserMessage(err))
			continue
		}
		chunks := chunker.Chunk(parser.CleanText(ext.Text))
		fmt.Fprintf(out, "%s: %d pages, %d chunks, hash %s\n", name, ext.PageCount, len(chunks), dedup.Fingerprint(raw))
		if len(chunks) > 0 {
			fmt.Fprintf(out, "  first chunk: %s\n", helper.Truncate(chunks[0], 120))
		}
	}
	return nil
}
