// Package extract expands downloaded archives into a flat directory of files.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
	"github.com/wadaphaq/oasis-api-tool/internal/util"
)

// ExtractionError reports an archive that could not be read.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Summary describes one ExtractAll call.
type Summary struct {
	Archives int      // archives expanded
	Files    []string // output names in write order; repeats mean overwrites
}

// Extractor expands .zip, .gz and .zst files.
type Extractor struct {
	metrics *metrics.Metrics
	log     *slog.Logger
	zstd    *zstd.Decoder
}

// New creates an extractor. m may be nil.
func New(m *metrics.Metrics) (*Extractor, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Extractor{
		metrics: m,
		log:     logging.Component("extract"),
		zstd:    dec,
	}, nil
}

// Close releases decoder resources.
func (x *Extractor) Close() {
	if x.zstd != nil {
		x.zstd.Close()
	}
}

// ExtractAll expands every supported archive in inputDir into outputDir.
// Every member lands directly in outputDir under its base name; when two
// members share a name the one extracted last wins. Archives are processed
// in name order, so reruns over the same input produce the same files.
func (x *Extractor) ExtractAll(ctx context.Context, inputDir, outputDir string) (Summary, error) {
	var sum Summary

	if err := util.EnsureDir(outputDir); err != nil {
		return sum, fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return sum, fmt.Errorf("read input directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		path := filepath.Join(inputDir, e.Name())
		var files []string

		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".zip":
			files, err = x.extractZip(path, outputDir)
		case ".gz":
			files, err = x.extractGzip(path, outputDir)
		case ".zst":
			files, err = x.extractZstd(path, outputDir)
		default:
			continue
		}
		if err != nil {
			return sum, &ExtractionError{Path: path, Err: err}
		}

		sum.Archives++
		sum.Files = append(sum.Files, files...)
		x.metrics.AddExtracted(len(files))
		x.log.Debug("extracted archive", "archive", e.Name(), "files", len(files))
	}

	x.log.Info("extraction complete",
		"input", inputDir,
		"output", outputDir,
		"archives", sum.Archives,
		"files", len(sum.Files),
	)
	return sum, nil
}

func (x *Extractor) extractZip(path, outputDir string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var written []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name, err := flatName(f.Name)
		if err != nil {
			return written, err
		}

		rc, err := f.Open()
		if err != nil {
			return written, fmt.Errorf("open member %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return written, fmt.Errorf("read member %s: %w", f.Name, err)
		}

		if err := x.write(outputDir, name, data); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

func (x *Extractor) extractGzip(path, outputDir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := x.write(outputDir, name, data); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func (x *Extractor) extractZstd(path, outputDir string) ([]string, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := x.zstd.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := x.write(outputDir, name, data); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

func (x *Extractor) write(outputDir, name string, data []byte) error {
	dst := filepath.Join(outputDir, name)
	if _, err := os.Stat(dst); err == nil {
		x.log.Debug("overwriting extracted file", "file", name)
	}
	if err := storage.WriteFileAtomic(dst, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// flatName drops any directory part of a member name.
func flatName(member string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(member, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("invalid member name %q", member)
	}
	return name, nil
}
