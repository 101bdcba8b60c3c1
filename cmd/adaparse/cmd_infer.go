package main

import (
	"fmt"
	"time"

	"adaparse/internal/config"
	"adaparse/internal/errs"
	"adaparse/internal/inference"
	"adaparse/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInferCmd(a *app) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run batched page inference over a directory of PDFs",
		Long: `Loads a workflow YAML file, renders the pages of every PDF under pdf_dir,
transcribes them in batches and writes parsed_results.jsonl plus one .mmd file
per document to parser_settings.mmd_out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			s := cfg.ParserSettings

			log := a.logger.Named(string(logging.CategoryNougat))
			if s.NougatLogsPath != "" {
				fileLog, err := logging.New(logging.Options{
					Verbose: a.verbose,
					Dir:     s.NougatLogsPath,
					Name:    logging.CategoryNougat,
				})
				if err != nil {
					return err
				}
				defer fileLog.Sync()
				log = fileLog.With(zap.String("run_id", a.runID))
			}
			log.Info("Configuration loaded", zap.String("pdf_dir", cfg.PDFDir), zap.Stringer("parser_settings", s))

			model, err := a.newModel(cmd.Context(), inference.GeminiOptions{
				APIKey:      s.APIKey,
				Model:       s.Model,
				Markdown:    s.Markdown,
				MaxRetries:  s.MaxRetries,
				Backoff:     time.Second,
				Timeout:     s.Timeout(),
				Concurrency: s.NumWorkers,
				Logger:      log,
			})
			if err != nil {
				if errs.IsConfiguration(err) {
					return err
				}
				return fmt.Errorf("failed to create model: %w", err)
			}

			d := &inference.Driver{
				PDFDir:   cfg.PDFDir,
				Settings: s,
				Model:    model,
				Open:     a.openPDF,
				Logger:   log,
				TimerOut: a.stdout,
			}
			sum, err := d.Run(cmd.Context())
			if err != nil {
				return err
			}

			if sum.FailedBatches > 0 {
				printWarn(a.stdout, "Inference finished with %d failed batches", sum.FailedBatches)
			} else {
				printDone(a.stdout, "Inference finished")
			}
			printf(a.stdout, "%s", headerStyle.Render("Summary"))
			printField(a.stdout, "pdfs", sum.Files)
			printField(a.stdout, "documents", sum.Documents)
			printField(a.stdout, "batches", sum.Batches)
			printField(a.stdout, "pages", sum.Pages)
			if sum.ResultsPath != "" {
				printField(a.stdout, "results", sum.ResultsPath)
			}
			printField(a.stdout, "elapsed", sum.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
