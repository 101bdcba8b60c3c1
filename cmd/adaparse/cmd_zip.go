package main

import (
	"adaparse/internal/archive"
	"adaparse/internal/logging"

	"github.com/spf13/cobra"
)

func newZipPDFsCmd(a *app) *cobra.Command {
	opts := archive.Options{}
	cmd := &cobra.Command{
		Use:   "zip-pdfs",
		Short: "Zip PDF files in chunks",
		Long: `Finds the files matching --glob_pattern under --input_dir, groups them into
chunks of --chunk_size and writes chunk_<i>.zip files plus a manifest.json
mapping every archive to the PDFs it holds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = a.logger.Named(string(logging.CategoryArchive))
			res, err := archive.ZipPDFs(cmd.Context(), opts)
			if res != nil {
				printf(a.stdout, "Found %d PDF files.", res.Files)
			}
			if err != nil {
				return err
			}
			printDone(a.stdout, "Zipped files to %s", opts.OutputDir)
			printField(a.stdout, "archives", len(res.Chunks))
			printField(a.stdout, "manifest", res.ManifestPath)
			if len(res.Skipped) > 0 {
				printWarn(a.stdout, "%d PDF files vanished before zipping", len(res.Skipped))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.InputDir, "input_dir", "i", "", "Path to the root directory containing pdfs")
	cmd.Flags().StringVarP(&opts.OutputDir, "output_dir", "o", "", "Path to the output directory")
	cmd.Flags().IntVarP(&opts.ChunkSize, "chunk_size", "c", 10, "Number of PDF files per chunk")
	cmd.Flags().StringVarP(&opts.GlobPattern, "glob_pattern", "g", archive.DefaultGlobPattern, "Glob pattern to search the root directory for")
	cmd.Flags().IntVarP(&opts.NumWorkers, "num_cpus", "n", 1, "Number of workers to use for zipping")
	_ = cmd.MarkFlagRequired("input_dir")
	_ = cmd.MarkFlagRequired("output_dir")
	return cmd
}
