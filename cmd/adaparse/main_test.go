package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"adaparse/internal/archive"
	"adaparse/internal/errs"
	"adaparse/internal/inference"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// execute runs the CLI with args against a test app and returns its stdout.
func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	if a == nil {
		a = newApp(&out)
	}
	a.stdout = &out
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	err := a.run(context.Background(), args)
	return out.String(), err
}

// syncCounter is a log sink that counts flushes.
type syncCounter struct {
	bytes.Buffer
	syncs int
}

func (s *syncCounter) Sync() error {
	s.syncs++
	return nil
}

func TestRun_SyncsLoggerWhenCommandFails(t *testing.T) {
	sink := &syncCounter{}
	a := newApp(nil)
	a.logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zap.DebugLevel))

	_, err := execute(t, a, "balance-jsonl", "-i", t.TempDir(), "-o", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 1, sink.syncs)
}

func TestBalanceJSONL(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "balanced")
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.jsonl"), []byte("1\n2\n3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "b.jsonl"), []byte("4\n5\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "skip.txt"), []byte("x\n"), 0644))

	stdout, err := execute(t, nil, "balance-jsonl", "-i", in, "-o", out, "-l", "2", "-n", "2")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Balanced JSONL files written to: "+out)
	assert.Contains(t, stdout, "Balancing 2 JSONL files using 2 lines per file...")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"00000.jsonl", "00001.jsonl", "00002.jsonl"}, names)

	last, err := os.ReadFile(filepath.Join(out, "00002.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "5\n", string(last))
}

func TestBalanceJSONL_NoInputs(t *testing.T) {
	_, err := execute(t, nil, "balance-jsonl", "-i", t.TempDir(), "-o", t.TempDir())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Contains(t, err.Error(), "no JSONL files found")
}

func TestBalanceJSONL_RequiresFlags(t *testing.T) {
	_, err := execute(t, nil, "balance-jsonl", "-i", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output_dir")
}

func TestParseTimers(t *testing.T) {
	run := t.TempDir()
	dir := filepath.Join(run, "parsl", "000", "submit_scripts")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "block-0.stdout"), []byte(
		"[timer] [parse] in [1.50] seconds. start: [10.00], end: [11.50]\nnoise\n"), 0644))
	csvPath := filepath.Join(t.TempDir(), "timers.csv")

	stdout, err := execute(t, nil, "parse-timers", "--run_path", run, "-c", csvPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote 1 timer events")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "tags,elapsed_s,start_unix,end_unix\nparse,1.5,10,11.5\n", string(data))
}

func TestParseTimers_MissingRunPathWritesHeaderOnly(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "timers.csv")

	stdout, err := execute(t, nil, "parse-timers", "-l", filepath.Join(t.TempDir(), "missing"), "-c", csvPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote 0 timer events")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "tags,elapsed_s,start_unix,end_unix\n", string(data))
}

func TestZipPDFs(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(in, fmt.Sprintf("p%d.pdf", i)), []byte("%PDF-1.4"), 0644))
	}

	stdout, err := execute(t, nil, "zip-pdfs", "-i", in, "-o", out, "-c", "2", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Found 5 PDF files.")
	assert.Contains(t, stdout, "Zipped files to "+out)

	m, err := archive.ReadManifest(filepath.Join(out, archive.ManifestName))
	require.NoError(t, err)
	assert.Len(t, m, 3)
}

func TestZipPDFs_BadChunkSize(t *testing.T) {
	_, err := execute(t, nil, "zip-pdfs", "-i", t.TempDir(), "-o", t.TempDir(), "-c", "0")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

type onePageSource struct{ name string }

func (s onePageSource) NumPage() int { return 1 }
func (s onePageSource) ImagePNG(page int, dpi float64) ([]byte, error) {
	return []byte(s.name), nil
}
func (s onePageSource) Close() error { return nil }

type upperModel struct{}

func (upperModel) Inference(ctx context.Context, pages []inference.Page, earlyStopping bool) (*inference.Output, error) {
	out := &inference.Output{}
	for _, p := range pages {
		out.Predictions = append(out.Predictions, strings.ToUpper(string(p.Image)))
	}
	return out, nil
}

func writeWorkflow(t *testing.T, pdfDir, mmdOut string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	content := fmt.Sprintf("pdf_dir: %s\nparser_settings:\n  mmd_out: %s\n  batchsize: 2\n", pdfDir, mmdOut)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInfer(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	in, out := t.TempDir(), t.TempDir()
	for _, name := range []string{"x.pdf", "y.pdf", "z.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte("%PDF-1.4\n"), 0644))
	}

	var gotOpts inference.GeminiOptions
	a := newApp(nil)
	a.newModel = func(ctx context.Context, opts inference.GeminiOptions) (inference.Model, error) {
		gotOpts = opts
		return upperModel{}, nil
	}
	a.openPDF = func(path string) (inference.PageSource, error) {
		return onePageSource{name: filepath.Base(path)}, nil
	}

	stdout, err := execute(t, a, "infer", "--config", writeWorkflow(t, in, out))
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotOpts.APIKey)
	assert.Equal(t, "gemini-2.5-flash", gotOpts.Model)
	assert.Contains(t, stdout, "[timer] [inference batch 1]")
	assert.Contains(t, stdout, "Inference finished")

	mmd, err := os.ReadFile(filepath.Join(out, "y.mmd"))
	require.NoError(t, err)
	assert.Equal(t, "Y.PDF\n", string(mmd))

	results, err := os.ReadFile(filepath.Join(out, inference.ResultsName))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(results), "\n"))
	assert.Contains(t, string(results), `{"text":"X.PDF","last_page":true,"parser":"nougat"}`)
}

func TestInfer_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	path := writeWorkflow(t, t.TempDir(), t.TempDir())

	_, err := execute(t, nil, "infer", "--config", path)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestInfer_ModelBackendErrorIsNotConfiguration(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	path := writeWorkflow(t, t.TempDir(), t.TempDir())

	a := newApp(nil)
	a.newModel = func(ctx context.Context, opts inference.GeminiOptions) (inference.Model, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	_, err := execute(t, a, "infer", "--config", path)
	require.Error(t, err)
	assert.False(t, errs.IsConfiguration(err))
	assert.Contains(t, err.Error(), "failed to create model")
}

func TestInfer_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pdf_dir: a\nparser_settings: {mmd_out: b, dpi: 5}\n"), 0644))

	_, err := execute(t, nil, "infer", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dpi")
}
