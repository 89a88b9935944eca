package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/pipeline"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the corpus as CSV, JSON lines, or a JSON array",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := pipeline.NewResultStore(cfg.Store.Path)
		n, err := exportCorpus(cmd.Context(), store, exportFormat, exportOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, exportOutput)
		return nil
	},
}

// exportCorpus copies the corpus into a writer for format and validates the
// written output.
func exportCorpus(ctx context.Context, store *pipeline.ResultStore, format, output string) (int, error) {
	products, err := store.Load(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: load corpus")
	}

	writer, err := pipeline.NewExportWriter(format, output)
	if err != nil {
		return 0, err
	}
	if err := writer.Write(products); err != nil {
		writer.Close() //nolint:errcheck
		return 0, eris.Wrap(err, "export: write")
	}
	if err := writer.Close(); err != nil {
		return 0, eris.Wrap(err, "export: close")
	}
	if err := writer.Validate(); err != nil {
		return 0, eris.Wrap(err, "export: validate")
	}

	zap.L().Info("corpus exported",
		zap.String("format", format),
		zap.String("output", output),
		zap.Int("records", len(products)),
	)
	return len(products), nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", pipeline.FormatCSV, "output format: csv, jsonl, json, or both")
	exportCmd.Flags().StringVar(&exportOutput, "output", "output/results.csv", "output file path")
	rootCmd.AddCommand(exportCmd)
}
