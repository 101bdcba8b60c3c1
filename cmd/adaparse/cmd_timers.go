package main

import (
	"os"

	"adaparse/internal/logging"
	"adaparse/internal/timer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newParseTimersCmd(a *app) *cobra.Command {
	var (
		runPath string
		csvPath string
	)
	cmd := &cobra.Command{
		Use:   "parse-timers",
		Short: "Parse timer logs from the PDF workflow",
		Long: `Collects the [timer] lines from every parsl/000/submit_scripts/*.stdout file
of a workflow run and writes them as a table. A --csv_path ending in .xlsx
produces a spreadsheet instead of CSV.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := a.logger.Named(string(logging.CategoryTimers))
			if info, err := os.Stat(runPath); err != nil || !info.IsDir() {
				log.Warn("Run path is not a directory, no timer logs to parse", zap.String("run_path", runPath))
			}

			stats, err := timer.ParseRun(runPath)
			if err != nil {
				return err
			}
			log.Info("Parsed timer logs", zap.String("run_path", runPath), zap.Int("events", len(stats)))

			if err := timer.Write(csvPath, stats); err != nil {
				return err
			}
			printDone(a.stdout, "Wrote %d timer events to %s", len(stats), csvPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&runPath, "run_path", "l", "", "Path to the workflow run directory")
	cmd.Flags().StringVarP(&csvPath, "csv_path", "c", "timer_logs.csv", "Path to the CSV file to write the parsed timer logs to")
	_ = cmd.MarkFlagRequired("run_path")
	return cmd
}
