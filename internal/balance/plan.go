// Package balance rewrites a set of JSONL shards into new shards holding a fixed
// number of lines each.
//
// Lines are opaque: the package never parses JSON. The record stream is the
// concatenation of all input files in lexicographic path order. A pre-scan records
// the byte offset at which every output shard starts, so each output shard can be
// materialized independently by seeking straight to its first record.
package balance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"adaparse/internal/errs"

	"go.uber.org/zap"
)

// readBufferSize bounds a single ReadSlice; longer lines are handled in pieces.
const readBufferSize = 64 * 1024

// ShardSpec locates one output shard in the record stream.
type ShardSpec struct {
	Index       int   // output shard number
	StartFile   int   // index into Plan.Files holding the first record
	StartOffset int64 // byte offset of the first record in that file
	Lines       int   // number of records in the shard
}

// Plan is the precomputed partition of the record stream into output shards.
type Plan struct {
	Files        []string           // readable inputs, sorted
	Skipped      []string           // inputs that no longer exist
	Unreadable   []errs.ItemFailure // inputs that exist but could not be opened, indexed by sorted position
	FileLines    []int              // record count per entry of Files
	Total        int
	LinesPerFile int
	Shards       []ShardSpec
}

// NewPlan scans files and partitions their records into shards of linesPerFile.
// Inputs that vanished are logged, listed in Skipped and left out of the stream.
// Inputs that exist but cannot be opened are listed in Unreadable; Balance reports
// them as a failure once the readable records are written.
func NewPlan(ctx context.Context, files []string, linesPerFile int, log *zap.Logger) (*Plan, error) {
	if len(files) == 0 {
		return nil, &errs.ConfigurationError{Field: "input_files", Reason: "no input files given"}
	}
	if linesPerFile < 1 {
		return nil, errs.Config("lines_per_file", "must be >= 1, got %d", linesPerFile)
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Plan{LinesPerFile: linesPerFile}
	for inputIdx, path := range sortedUnique(files) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn("Skipping vanished input", zap.Error(errs.Missing(path, err)))
				p.Skipped = append(p.Skipped, path)
				continue
			}
			log.Error("Input is not readable", zap.String("path", path), zap.Error(err))
			p.Unreadable = append(p.Unreadable, errs.ItemFailure{Index: inputIdx, Name: path, Err: err})
			continue
		}

		fileIdx := len(p.Files)
		n, err := scanRecords(f, func(offset int64) {
			if p.Total%linesPerFile == 0 {
				p.Shards = append(p.Shards, ShardSpec{
					Index:       len(p.Shards),
					StartFile:   fileIdx,
					StartOffset: offset,
				})
			}
			p.Shards[len(p.Shards)-1].Lines++
			p.Total++
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}

		p.Files = append(p.Files, path)
		p.FileLines = append(p.FileLines, n)
		log.Debug("Scanned input", zap.String("path", path), zap.Int("lines", n))
	}

	return p, nil
}

// OutputName returns the file name of shard index out of count shards. Names are
// zero padded so that a lexicographic listing keeps stream order.
func OutputName(index, count int) string {
	width := len(strconv.Itoa(count - 1))
	if width < 5 {
		width = 5
	}
	return fmt.Sprintf("%0*d.jsonl", width, index)
}

// scanRecords calls onRecord with the starting byte offset of every record in r
// and returns the number of records. A trailing line without '\n' counts as a record.
func scanRecords(r io.Reader, onRecord func(offset int64)) (int, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	var (
		offset  int64
		count   int
		atStart = true
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if atStart {
				onRecord(offset)
				count++
				atStart = false
			}
			offset += int64(len(chunk))
			if chunk[len(chunk)-1] == '\n' {
				atStart = true
			}
		}
		switch err {
		case nil, bufio.ErrBufferFull:
			continue
		case io.EOF:
			return count, nil
		default:
			return count, err
		}
	}
}

func sortedUnique(files []string) []string {
	out := append([]string(nil), files...)
	slices.Sort(out)
	return slices.Compact(out)
}
