package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"adaparse/internal/inference"
	"adaparse/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the per-invocation state shared by every subcommand.
type app struct {
	verbose bool
	logger  *zap.Logger
	stdout  io.Writer
	runID   string

	// newModel builds the inference backend and openPDF renders documents (nil means
	// MuPDF); tests replace both.
	newModel func(ctx context.Context, opts inference.GeminiOptions) (inference.Model, error)
	openPDF  inference.Opener
}

func newApp(stdout io.Writer) *app {
	return &app{
		stdout: stdout,
		newModel: func(ctx context.Context, opts inference.GeminiOptions) (inference.Model, error) {
			m, err := inference.NewGeminiModel(ctx, opts)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// newRootCmd wires the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adaparse",
		Short: "Utilities for the adaparse PDF extraction pipeline",
		Long: `adaparse prepares inputs for and post-processes outputs of a distributed
PDF-to-text pipeline: rebalancing JSONL shards, collecting timer logs,
zipping PDFs for transfer and running batched page inference.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.runID = uuid.NewString()
			if a.logger != nil {
				a.logger = a.logger.With(zap.String("run_id", a.runID))
				return nil
			}
			logger, err := logging.New(logging.Options{Verbose: a.verbose})
			if err != nil {
				return err
			}
			a.logger = logger.With(zap.String("run_id", a.runID))
			return nil
		},
	}
	rootCmd.SetOut(a.stdout)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newBalanceCmd(a))
	rootCmd.AddCommand(newParseTimersCmd(a))
	rootCmd.AddCommand(newZipPDFsCmd(a))
	rootCmd.AddCommand(newInferCmd(a))
	return rootCmd
}

// run executes the command tree with args and flushes the logger afterwards, including
// when the command failed.
func (a *app) run(ctx context.Context, args []string) error {
	defer func() {
		if a.logger != nil {
			_ = a.logger.Sync()
		}
	}()
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
