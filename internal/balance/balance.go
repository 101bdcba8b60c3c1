package balance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"adaparse/internal/errs"
	"adaparse/internal/pool"

	"go.uber.org/zap"
)

// Options configures a Balance run.
type Options struct {
	InputFiles   []string
	OutputDir    string
	LinesPerFile int
	NumWorkers   int
	Logger       *zap.Logger
}

func (o Options) validate() error {
	if len(o.InputFiles) == 0 {
		return &errs.ConfigurationError{Field: "input_files", Reason: "no input files given"}
	}
	if o.OutputDir == "" {
		return errs.Config("output_dir", "must not be empty")
	}
	if o.LinesPerFile < 1 {
		return errs.Config("lines_per_file", "must be >= 1, got %d", o.LinesPerFile)
	}
	if o.NumWorkers < 1 {
		return errs.Config("num_workers", "must be >= 1, got %d", o.NumWorkers)
	}
	return nil
}

// Balance rewrites the records of opts.InputFiles into opts.OutputDir, opts.LinesPerFile
// records per file, and returns the number of output files created. Shards are written
// in parallel; if any shard fails the others still complete and a
// *errs.PartialFailureError is returned once all of them are done. Inputs that exist
// but cannot be read do not stop the run either; they are reported the same way.
func Balance(ctx context.Context, opts Options) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	plan, err := NewPlan(ctx, opts.InputFiles, opts.LinesPerFile, log)
	if err != nil {
		return 0, err
	}
	log.Info("Planned rebalance",
		zap.Int("inputs", len(plan.Files)),
		zap.Int("skipped", len(plan.Skipped)),
		zap.Int("unreadable", len(plan.Unreadable)),
		zap.Int("records", plan.Total),
		zap.Int("shards", len(plan.Shards)),
		zap.Int("lines_per_file", plan.LinesPerFile))

	n, err := plan.Write(ctx, opts.OutputDir, opts.NumWorkers, log)
	if len(plan.Unreadable) > 0 {
		unreadable := &errs.PartialFailureError{
			Op:       "balance inputs",
			Total:    len(plan.Files) + len(plan.Skipped) + len(plan.Unreadable),
			Failures: plan.Unreadable,
		}
		return n, errors.Join(unreadable, err)
	}
	return n, err
}

// Write materializes every shard of the plan under outputDir using workers goroutines.
func (p *Plan) Write(ctx context.Context, outputDir string, workers int, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tasks := make([]pool.Task, len(p.Shards))
	for i, sh := range p.Shards {
		sh := sh
		name := OutputName(sh.Index, len(p.Shards))
		out := filepath.Join(outputDir, name)
		tasks[i] = pool.Task{
			Index: sh.Index,
			Name:  name,
			Run: func(context.Context) error {
				if err := p.writeShard(sh, out); err != nil {
					log.Error("Shard write failed", zap.Int("shard", sh.Index), zap.String("path", out), zap.Error(err))
					return err
				}
				log.Debug("Wrote shard", zap.Int("shard", sh.Index), zap.String("path", out), zap.Int("lines", sh.Lines))
				return nil
			},
		}
	}

	res := pool.Run(ctx, workers, tasks)
	log.Info("Rebalance finished",
		zap.Int("written", res.Succeeded),
		zap.Int("failed", len(res.Failures)),
		zap.String("output_dir", outputDir))
	return res.Succeeded, res.Err("balance")
}

// writeShard copies sh.Lines records starting at its start offset into path. A
// partially written file is removed on failure.
func (p *Plan) writeShard(sh ShardSpec, path string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	w := bufio.NewWriterSize(out, readBufferSize)
	remaining := sh.Lines
	offset := sh.StartOffset
	for fileIdx := sh.StartFile; remaining > 0; fileIdx++ {
		if fileIdx >= len(p.Files) {
			return fmt.Errorf("inputs changed since scan: %d records short", remaining)
		}
		copied, err := copyRecords(w, p.Files[fileIdx], offset, remaining)
		if err != nil {
			return err
		}
		remaining -= copied
		offset = 0
	}
	return w.Flush()
}

// copyRecords appends up to limit records of path, starting at offset, to w. Every
// record written ends in '\n'. It returns the number of records copied.
func copyRecords(w *bufio.Writer, path string, offset int64, limit int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Missing(path, err)
		}
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, readBufferSize)
	copied := 0
	for copied < limit {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if _, werr := w.Write(chunk); werr != nil {
				return copied, werr
			}
			switch {
			case chunk[len(chunk)-1] == '\n':
				copied++
			case err == io.EOF:
				if werr := w.WriteByte('\n'); werr != nil {
					return copied, werr
				}
				copied++
			}
		}
		switch err {
		case nil, bufio.ErrBufferFull:
			continue
		case io.EOF:
			return copied, nil
		default:
			return copied, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return copied, nil
}
