// Package inference drives batched page-image transcription over a directory of PDFs.
//
// A Loader renders PDF pages to PNG in a background goroutine and hands them out in
// fixed-size batches. A Driver feeds each batch to a Model, streams the predictions to
// parsed_results.jsonl and assembles one .mmd file per finished document.
package inference

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// PageSource is an open document that can render its pages.
type PageSource interface {
	NumPage() int
	ImagePNG(page int, dpi float64) ([]byte, error)
	Close() error
}

// Opener opens the document at path.
type Opener func(path string) (PageSource, error)

// OpenFitz opens path with MuPDF.
func OpenFitz(path string) (PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return doc, nil
}

// Page is one rendered page.
type Page struct {
	Doc      string // path of the source PDF
	Index    int    // zero-based page number
	Image    []byte // PNG
	LastPage bool   // no later page of Doc follows
}
