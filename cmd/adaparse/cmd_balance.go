package main

import (
	"fmt"
	"path/filepath"

	"adaparse/internal/balance"
	"adaparse/internal/errs"
	"adaparse/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBalanceCmd(a *app) *cobra.Command {
	var (
		inputDir     string
		outputDir    string
		linesPerFile int
		numWorkers   int
	)
	cmd := &cobra.Command{
		Use:   "balance-jsonl",
		Short: "Rewrite JSONL files to balance the number of lines per file",
		Long: `Reads every *.jsonl file in --input_dir (in lexicographic order) as one stream
of lines and rewrites it into --output_dir as 00000.jsonl, 00001.jsonl, ...,
each holding --lines_per_file lines except the last.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := filepath.Glob(filepath.Join(inputDir, "*.jsonl"))
			if err != nil {
				return fmt.Errorf("glob input directory: %w", err)
			}
			if len(files) == 0 {
				return errs.Config("input_dir", "no JSONL files found in the input directory %s", inputDir)
			}

			printf(a.stdout, "Balanced JSONL files written to: %s", outputDir)
			printf(a.stdout, "Balancing %d JSONL files using %d lines per file...", len(files), linesPerFile)

			log := a.logger.Named(string(logging.CategoryBalance))
			n, err := balance.Balance(cmd.Context(), balance.Options{
				InputFiles:   files,
				OutputDir:    outputDir,
				LinesPerFile: linesPerFile,
				NumWorkers:   numWorkers,
				Logger:       log,
			})
			if err != nil {
				log.Error("Balancing failed", zap.Error(err))
				return err
			}
			printDone(a.stdout, "Wrote %d balanced files", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputDir, "input_dir", "i", "", "The directory containing the JSONL files to balance")
	cmd.Flags().StringVarP(&outputDir, "output_dir", "o", "", "The directory to write the balanced JSONL files to")
	cmd.Flags().IntVarP(&linesPerFile, "lines_per_file", "l", 1000, "Number of lines per balanced JSONL file")
	cmd.Flags().IntVarP(&numWorkers, "num_workers", "n", 1, "Number of workers to use for balancing JSONL files")
	_ = cmd.MarkFlagRequired("input_dir")
	_ = cmd.MarkFlagRequired("output_dir")
	return cmd
}
