package inference

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"adaparse/internal/errs"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// LoaderOptions configures NewLoader.
type LoaderOptions struct {
	BatchSize int
	Prefetch  int // rendered pages buffered ahead of the consumer
	DPI       int
	MMDOut    string // documents with an existing <stem>.mmd here are skipped
	Recompute bool   // ignore existing .mmd files
	Open      Opener
	Logger    *zap.Logger
}

// Batch is a group of consecutive pages handed to the model together.
type Batch struct {
	Index int // zero-based
	Pages []Page
}

type document struct {
	path  string
	pages int
}

// Loader yields batches of rendered pages across all loadable documents, in order.
type Loader struct {
	docs      []document
	batchSize int
	pages     chan Page
	cancel    context.CancelFunc
	done      chan struct{}
	next      int

	closeOnce sync.Once
}

// NewLoader filters files down to loadable PDFs and starts rendering them. It returns
// nil when no document is loadable. The caller must Close a non-nil Loader.
func NewLoader(ctx context.Context, files []string, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize < 1 {
		return nil, errs.Config("batchsize", "must be >= 1, got %d", opts.BatchSize)
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = opts.BatchSize
	}
	if opts.Open == nil {
		opts.Open = OpenFitz
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var docs []document
	for _, path := range files {
		doc, ok := inspect(path, opts, log)
		if ok {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		log.Warn("No valid datasets created")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Loader{
		docs:      docs,
		batchSize: opts.BatchSize,
		pages:     make(chan Page, opts.Prefetch),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go l.produce(ctx, opts, log)
	return l, nil
}

// inspect applies the skip rules to one file and counts its pages.
func inspect(path string, opts LoaderOptions, log *zap.Logger) (document, bool) {
	if _, err := os.Stat(path); err != nil {
		log.Warn("Skipping missing file", zap.Error(errs.Missing(path, err)))
		return document{}, false
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil || !mtype.Is("application/pdf") {
		detected := ""
		if mtype != nil {
			detected = mtype.String()
		}
		log.Warn("Skipping non-PDF file", zap.String("path", path), zap.String("mime", detected))
		return document{}, false
	}

	if opts.MMDOut != "" && !opts.Recompute {
		if _, err := os.Stat(MMDPath(opts.MMDOut, path)); err == nil {
			log.Info("Skipping already processed file", zap.String("path", path))
			return document{}, false
		}
	}

	src, err := opts.Open(path)
	if err != nil {
		log.Error("Error loading file", zap.String("path", path), zap.Error(err))
		return document{}, false
	}
	n := src.NumPage()
	_ = src.Close()
	if n < 1 {
		log.Warn("Skipping empty document", zap.String("path", path))
		return document{}, false
	}
	return document{path: path, pages: n}, true
}

// produce renders every page of every document into l.pages. A page is held back
// until the next one renders so the last successful page of a document carries
// LastPage even when trailing pages fail.
func (l *Loader) produce(ctx context.Context, opts LoaderOptions, log *zap.Logger) {
	defer close(l.done)
	defer close(l.pages)

	send := func(p Page) bool {
		select {
		case l.pages <- p:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, doc := range l.docs {
		src, err := opts.Open(doc.path)
		if err != nil {
			log.Error("Error loading file", zap.String("path", doc.path), zap.Error(err))
			continue
		}

		var pending *Page
		for i := 0; i < doc.pages; i++ {
			if ctx.Err() != nil {
				_ = src.Close()
				return
			}
			img, err := src.ImagePNG(i, float64(opts.DPI))
			if err != nil {
				log.Warn("Skipping page", zap.String("path", doc.path), zap.Int("page", i), zap.Error(err))
				continue
			}
			if pending != nil && !send(*pending) {
				_ = src.Close()
				return
			}
			pending = &Page{Doc: doc.path, Index: i, Image: img}
		}
		_ = src.Close()

		if pending != nil {
			pending.LastPage = true
			if !send(*pending) {
				return
			}
		}
	}
}

// Next returns the next batch. ok is false once every page has been handed out or
// ctx is done.
func (l *Loader) Next(ctx context.Context) (b Batch, ok bool) {
	b = Batch{Index: l.next}
	for len(b.Pages) < l.batchSize {
		select {
		case p, open := <-l.pages:
			if !open {
				if len(b.Pages) == 0 {
					return Batch{}, false
				}
				l.next++
				return b, true
			}
			b.Pages = append(b.Pages, p)
		case <-ctx.Done():
			return Batch{}, false
		}
	}
	l.next++
	return b, true
}

// Documents returns the paths of the documents that passed the skip rules.
func (l *Loader) Documents() []string {
	out := make([]string, len(l.docs))
	for i, d := range l.docs {
		out[i] = d.path
	}
	return out
}

// Close stops the producer and waits for it to exit.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}

// MMDPath is where the transcription of pdf is written under outDir.
func MMDPath(outDir, pdf string) string {
	base := filepath.Base(pdf)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".mmd")
}
