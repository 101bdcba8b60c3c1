// Package archive groups PDF files into fixed-size chunks, writes each chunk as a zip
// archive and records which archive holds which PDF in a manifest.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"adaparse/internal/errs"
	"adaparse/internal/pool"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// DefaultGlobPattern matches every PDF below the input directory.
const DefaultGlobPattern = "**/*.pdf"

// ManifestName is the file written next to the archives.
const ManifestName = "manifest.json"

// Options configures ZipPDFs.
type Options struct {
	InputDir    string
	OutputDir   string
	ChunkSize   int
	GlobPattern string
	NumWorkers  int
	Logger      *zap.Logger
}

// Chunk is one archive and its ordered members.
type Chunk struct {
	Index   int
	Path    string   // absolute path of the zip
	Members []string // absolute paths of the PDFs, in discovery order
}

// Result summarizes a ZipPDFs run.
type Result struct {
	Files        int
	Chunks       []Chunk
	ManifestPath string
	Written      int      // archives written successfully
	Skipped      []string // members that vanished before they could be zipped
}

// Manifest maps archive path to member PDF paths.
type Manifest map[string][]string

func (o Options) validate() error {
	if o.InputDir == "" {
		return errs.Config("input_dir", "must not be empty")
	}
	if info, err := os.Stat(o.InputDir); err != nil || !info.IsDir() {
		return errs.Config("input_dir", "%s is not a directory", o.InputDir)
	}
	if o.OutputDir == "" {
		return errs.Config("output_dir", "must not be empty")
	}
	if o.ChunkSize < 1 {
		return errs.Config("chunk_size", "must be >= 1, got %d", o.ChunkSize)
	}
	if o.NumWorkers < 1 {
		return errs.Config("num_cpus", "must be >= 1, got %d", o.NumWorkers)
	}
	if o.GlobPattern == "" {
		return errs.Config("glob_pattern", "must not be empty")
	}
	if !doublestar.ValidatePattern(o.GlobPattern) {
		return errs.Config("glob_pattern", "invalid pattern %q", o.GlobPattern)
	}
	return nil
}

// ZipPDFs discovers files under opts.InputDir, writes the manifest and then zips the
// chunks in parallel. Chunk failures are reported together once every chunk is done.
func ZipPDFs(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	files, err := Discover(opts.InputDir, opts.GlobPattern)
	if err != nil {
		return nil, err
	}
	log.Info("Found PDF files", zap.Int("count", len(files)), zap.String("input_dir", opts.InputDir))

	chunks, err := Plan(files, opts.OutputDir, opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Files:        len(files),
		Chunks:       chunks,
		ManifestPath: filepath.Join(opts.OutputDir, ManifestName),
	}
	if err := WriteManifest(res.ManifestPath, chunks); err != nil {
		return nil, err
	}

	// Each task owns its slot.
	written := make([][]string, len(chunks))
	tasks := make([]pool.Task, len(chunks))
	for i, c := range chunks {
		i, c := i, c
		tasks[i] = pool.Task{
			Index: c.Index,
			Name:  filepath.Base(c.Path),
			Run: func(context.Context) error {
				members, err := writeZip(c, opts.InputDir, log)
				written[i] = members
				return err
			},
		}
	}
	outcome := pool.Run(ctx, opts.NumWorkers, tasks)
	res.Written = outcome.Succeeded
	for _, f := range outcome.Failures {
		log.Error("Chunk failed", zap.Int("chunk", f.Index), zap.String("zip", f.Name), zap.Error(f.Err))
	}
	if err := res.reconcile(written); err != nil {
		return res, err
	}
	log.Info("Zipped files",
		zap.Int("archives", res.Written),
		zap.Int("skipped", len(res.Skipped)),
		zap.String("output_dir", opts.OutputDir))

	return res, outcome.Err("zip-pdfs")
}

// reconcile narrows each written chunk to the members that actually went into its
// archive and rewrites the manifest when any were skipped. A nil entry of written
// marks a failed chunk, which keeps its planned members.
func (r *Result) reconcile(written [][]string) error {
	var skipped []string
	for i, members := range written {
		if members == nil || len(members) == len(r.Chunks[i].Members) {
			continue
		}
		kept := make(map[string]bool, len(members))
		for _, m := range members {
			kept[m] = true
		}
		for _, m := range r.Chunks[i].Members {
			if !kept[m] {
				skipped = append(skipped, m)
			}
		}
		r.Chunks[i].Members = members
	}
	if len(skipped) == 0 {
		return nil
	}
	r.Skipped = skipped
	return WriteManifest(r.ManifestPath, r.Chunks)
}

// Discover returns the absolute paths of regular files under root matching pattern
// (doublestar syntax, relative to root), sorted.
func Discover(root, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q in %s: %w", pattern, root, err)
	}
	sort.Strings(matches)

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := resolve(filepath.Join(root, filepath.FromSlash(m)))
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

// Plan splits files into chunks of chunkSize named chunk_<i>.zip under outputDir.
func Plan(files []string, outputDir string, chunkSize int) ([]Chunk, error) {
	if chunkSize < 1 {
		return nil, errs.Config("chunk_size", "must be >= 1, got %d", chunkSize)
	}
	dir, err := resolve(outputDir)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for start := 0; start < len(files); start += chunkSize {
		end := min(start+chunkSize, len(files))
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			Index:   idx,
			Path:    filepath.Join(dir, fmt.Sprintf("chunk_%d.zip", idx)),
			Members: append([]string(nil), files[start:end]...),
		})
	}
	return chunks, nil
}

// WriteManifest writes the archive -> members mapping as JSON.
func WriteManifest(path string, chunks []Chunk) error {
	m := make(Manifest, len(chunks))
	for _, c := range chunks {
		m[c.Path] = c.Members
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// writeZip writes one chunk and returns the members it holds. Members that disappeared
// since discovery are logged and skipped; any other error fails the chunk, removes the
// partial archive and returns nil members.
func writeZip(c Chunk, inputDir string, log *zap.Logger) (members []string, err error) {
	f, err := os.Create(c.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			members = nil
			_ = os.Remove(c.Path)
		}
	}()

	base, err := resolve(inputDir)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(f)
	members = make([]string, 0, len(c.Members))
	for _, member := range c.Members {
		if err := addMember(zw, base, member); err != nil {
			if errs.IsMissing(err) {
				log.Warn("Skipping vanished PDF", zap.Int("chunk", c.Index), zap.Error(err))
				continue
			}
			_ = zw.Close()
			return nil, fmt.Errorf("add %s: %w", member, err)
		}
		members = append(members, member)
	}
	return members, zw.Close()
}

func addMember(zw *zip.Writer, base, path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.Missing(path, err)
		}
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = archiveName(base, path)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// archiveName is the member path relative to base, with forward slashes. Paths outside
// base fall back to the file name.
func archiveName(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// resolve returns the absolute path with symlinks evaluated when possible.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}
