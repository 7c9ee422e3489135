// Package tables merges extracted CSV files into one consolidated table.
package tables

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrNoInput is returned when the input directory holds no readable CSV file.
var ErrNoInput = errors.New("no CSV files to assemble")

// AssemblyError is a fatal assembly failure: the input directory could not
// be listed or the output could not be written.
type AssemblyError struct {
	Path string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s: %v", e.Path, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// SkippedFile is an input file left out of the table.
type SkippedFile struct {
	Name string
	Err  error
}

// Summary describes one assembly.
type Summary struct {
	Output   string
	Format   Format
	Files    []string // files merged, in processing order
	Skipped  []SkippedFile
	Columns  []string
	Rows     int
	Bytes    int
	Checksum string
}

// Assembler reads every CSV file in a directory into one Table and writes
// it out. Unreadable or malformed files are skipped and logged.
type Assembler struct {
	cfg     OutputConfig
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates an assembler. m may be nil.
func New(cfg OutputConfig, m *metrics.Metrics) *Assembler {
	return &Assembler{
		cfg:     cfg,
		metrics: m,
		log:     logging.Component("tables"),
	}
}

// Assemble merges the CSV files of inputDir and writes the result to
// outputPath, replacing any previous file. Files are read in directory
// listing order (by name).
func (a *Assembler) Assemble(ctx context.Context, inputDir, outputPath string) (Summary, error) {
	sum := Summary{Output: outputPath}

	format, err := FormatFromPath(outputPath)
	if err != nil {
		return sum, &AssemblyError{Path: outputPath, Err: err}
	}
	sum.Format = format

	t, err := a.Read(ctx, inputDir, outputPath, &sum)
	if err != nil {
		return sum, err
	}
	if len(sum.Files) == 0 {
		return sum, &AssemblyError{Path: inputDir, Err: ErrNoInput}
	}

	var buf bytes.Buffer
	if err := Write(&buf, t, format, a.cfg); err != nil {
		return sum, &AssemblyError{Path: outputPath, Err: err}
	}
	if err := storage.WriteFileAtomic(outputPath, buf.Bytes()); err != nil {
		return sum, &AssemblyError{Path: outputPath, Err: err}
	}

	sum.Columns = t.Columns()
	sum.Rows = t.Len()
	sum.Bytes = buf.Len()
	sum.Checksum = ComputeChecksum(buf.Bytes())

	a.metrics.ObserveAssembly(len(sum.Files), len(sum.Skipped), sum.Rows)
	a.log.Info("assembly complete",
		"output", outputPath,
		"format", string(format),
		"files", len(sum.Files),
		"skipped", len(sum.Skipped),
		"columns", len(sum.Columns),
		"rows", sum.Rows,
		"checksum", sum.Checksum,
	)
	return sum, nil
}

// Read loads the CSV files of inputDir into a new Table. A file at
// excludePath is ignored, so a previous output inside inputDir is never
// read back. sum, when non-nil, receives the merged and skipped files.
func (a *Assembler) Read(ctx context.Context, inputDir, excludePath string, sum *Summary) (*Table, error) {
	if sum == nil {
		sum = &Summary{}
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, &AssemblyError{Path: inputDir, Err: err}
	}

	exclude := ""
	if excludePath != "" {
		if abs, err := filepath.Abs(excludePath); err == nil {
			exclude = abs
		}
	}

	t := NewTable()
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(inputDir, e.Name())
		if abs, err := filepath.Abs(path); err == nil && abs == exclude {
			continue
		}

		if err := readFile(path, t); err != nil {
			a.log.Warn("skipping file", "file", e.Name(), "error", err)
			sum.Skipped = append(sum.Skipped, SkippedFile{Name: e.Name(), Err: err})
			continue
		}
		sum.Files = append(sum.Files, e.Name())
	}
	return t, nil
}

// readFile parses path completely before appending, so a malformed file
// never leaves partial rows behind.
func readFile(path string, t *Table) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if err := skipBOM(br); err != nil {
		return err
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return errors.New("empty file")
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	return t.Append(header, records)
}

func skipBOM(br *bufio.Reader) error {
	if b, _ := br.Peek(3); bytes.Equal(b, utf8BOM) {
		_, err := br.Discard(3)
		return err
	}
	return nil
}
