package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"adaparse/internal/archive"
	"adaparse/internal/config"
	"adaparse/internal/timer"

	"go.uber.org/zap"
)

// ResultsName is the JSONL file of per-page predictions under mmd_out.
const ResultsName = "parsed_results.jsonl"

// Record is one line of parsed_results.jsonl.
type Record struct {
	Text     string `json:"text"`
	LastPage bool   `json:"last_page"`
	Parser   string `json:"parser"`
}

// Driver runs a Model over every PDF below PDFDir.
type Driver struct {
	PDFDir   string
	Settings config.Settings
	Model    Model
	Open     Opener      // defaults to OpenFitz
	Logger   *zap.Logger // defaults to a no-op logger
	TimerOut io.Writer   // receives [timer] lines; defaults to os.Stdout
}

// Summary reports what a Run did.
type Summary struct {
	Files         int // PDFs found under PDFDir
	Documents     int // documents completed and written as .mmd
	Batches       int
	FailedBatches int
	Pages         int // predictions written
	ResultsPath   string
	Elapsed       time.Duration
}

// Run processes all batches. Failed batches are logged and skipped; Run only returns
// an error when the outputs themselves cannot be written.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.Model == nil {
		return nil, fmt.Errorf("no model configured")
	}
	timerOut := d.TimerOut
	if timerOut == nil {
		timerOut = os.Stdout
	}
	s := d.Settings
	sum := &Summary{}

	files, err := archive.Discover(d.PDFDir, archive.DefaultGlobPattern)
	if err != nil {
		return nil, err
	}
	sum.Files = len(files)
	if len(files) == 0 {
		log.Warn("No PDF files found in the specified directory", zap.String("pdf_dir", d.PDFDir))
		return sum, nil
	}

	if err := os.MkdirAll(s.MMDOut, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	loader, err := NewLoader(ctx, files, LoaderOptions{
		BatchSize: s.BatchSize,
		Prefetch:  s.Prefetch(),
		DPI:       s.DPI,
		MMDOut:    s.MMDOut,
		Recompute: s.Recompute,
		Open:      d.Open,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	if loader == nil {
		return sum, nil
	}
	defer loader.Close()

	sum.ResultsPath = filepath.Join(s.MMDOut, ResultsName)
	out, err := os.Create(sum.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create results file: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	m := newMetrics()
	pending := make(map[string][]string)
	broken := make(map[string]bool) // documents that lost pages to a failed batch
	start := time.Now()

	for {
		batch, ok := loader.Next(ctx)
		if !ok {
			break
		}
		n := batch.Index + 1
		sum.Batches++
		log.Info(fmt.Sprintf("Processing batch %d", n), zap.Int("batch", n), zap.Int("pages", len(batch.Pages)))

		t := timer.New(timerOut, "inference", "batch", strconv.Itoa(n)).Start()
		output, err := d.Model.Inference(ctx, batch.Pages, s.Skipping)
		stats := t.Stop()
		if err == nil && (output == nil || len(output.Predictions) != len(batch.Pages)) {
			err = fmt.Errorf("model returned no prediction for some of the %d pages", len(batch.Pages))
		}
		m.batch(err == nil, stats.Elapsed)
		if err != nil {
			sum.FailedBatches++
			log.Error("Error during inference", zap.Int("batch", n), zap.Error(err))
			for _, page := range batch.Pages {
				broken[page.Doc] = true
				delete(pending, page.Doc)
			}
			continue
		}

		for i, page := range batch.Pages {
			text := output.Predictions[i]
			if err := enc.Encode(Record{Text: text, LastPage: page.LastPage, Parser: ParserName}); err != nil {
				return sum, fmt.Errorf("failed to write results: %w", err)
			}
			sum.Pages++
			m.pages.Inc()

			if broken[page.Doc] {
				if page.LastPage {
					log.Warn("Document incomplete, not writing .mmd", zap.String("path", page.Doc))
				}
				continue
			}
			pending[page.Doc] = append(pending[page.Doc], text)
			if !page.LastPage {
				continue
			}
			if err := writeMMD(MMDPath(s.MMDOut, page.Doc), pending[page.Doc]); err != nil {
				log.Error("Failed to write document", zap.String("path", page.Doc), zap.Error(err))
			} else {
				sum.Documents++
				m.documents.Inc()
			}
			delete(pending, page.Doc)
		}
	}

	sum.Elapsed = time.Since(start)
	log.Info(fmt.Sprintf("Model inference completed in %.2f seconds.", sum.Elapsed.Seconds()),
		zap.Int("batches", sum.Batches),
		zap.Int("failed_batches", sum.FailedBatches),
		zap.Int("pages", sum.Pages))

	for doc := range pending {
		log.Warn("Document incomplete, not writing .mmd", zap.String("path", doc))
	}

	if err := w.Flush(); err != nil {
		return sum, fmt.Errorf("failed to write results: %w", err)
	}
	if err := out.Close(); err != nil {
		return sum, fmt.Errorf("failed to write results: %w", err)
	}
	log.Info("Results saved", zap.String("path", sum.ResultsPath))

	if s.MetricsPath != "" {
		if err := m.writeTextfile(s.MetricsPath); err != nil {
			return sum, err
		}
	}
	return sum, ctx.Err()
}

// writeMMD joins the page texts of a document with blank lines.
func writeMMD(path string, pages []string) error {
	return os.WriteFile(path, []byte(strings.Join(pages, "\n\n")+"\n"), 0644)
}
