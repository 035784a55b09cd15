package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the chromem collection to an encrypted file",
	Long: `Write the chromem collection to an encrypted file.

The key is read from vector_store.encryption_key or PDFRAG_ENCRYPTION_KEY
and must be 32 bytes long.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			path, err := a.Export(ctx, firstArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s.\n", path)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load a collection written by export",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Import(ctx, firstArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents.\n", n)
			return nil
		})
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
