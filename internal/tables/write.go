package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// Format is a consolidated output format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatFromPath picks the output format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported output extension %q (want .csv or .parquet)", filepath.Ext(path))
	}
}

// OutputConfig configures output generation.
type OutputConfig struct {
	Compression  string // parquet only: "snappy" | "zstd" | "gzip" | "none"
	RowGroupRows int    // parquet rows buffered per WriteRows call
}

// DefaultOutputConfig returns sensible defaults.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Compression:  "snappy",
		RowGroupRows: 10000,
	}
}

// Write encodes t to w.
func Write(w io.Writer, t *Table, format Format, cfg OutputConfig) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, t)
	case FormatParquet:
		return writeParquet(w, t, cfg)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < t.Len(); i++ {
		if err := cw.Write(t.Row(i)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func codec(name string) (compress.Codec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unknown parquet compression %q", name)
	}
}

// Schema returns the parquet schema for t: every column an optional string.
func Schema(t *Table) *parquet.Schema {
	group := make(parquet.Group, len(t.columns))
	for _, c := range t.columns {
		group[c] = parquet.Optional(parquet.String())
	}
	return parquet.NewSchema("oasis_prices", group)
}

func writeParquet(w io.Writer, t *Table, cfg OutputConfig) error {
	if len(t.columns) == 0 {
		return fmt.Errorf("table has no columns")
	}
	c, err := codec(cfg.Compression)
	if err != nil {
		return err
	}

	schema := Schema(t)

	// Leaf columns are ordered by name; map table columns onto them.
	leafOf := make(map[string]int, len(t.columns))
	for i, path := range schema.Columns() {
		leafOf[path[0]] = i
	}
	leaf := make([]int, len(t.columns))
	for i, name := range t.columns {
		leaf[i] = leafOf[name]
	}

	batch := cfg.RowGroupRows
	if batch <= 0 {
		batch = DefaultOutputConfig().RowGroupRows
	}

	pw := parquet.NewWriter(w, schema, parquet.Compression(c))
	rows := make([]parquet.Row, 0, batch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for i := 0; i < t.Len(); i++ {
		row := make(parquet.Row, len(t.columns))
		for col := range t.columns {
			idx := leaf[col]
			if v, ok := t.Cell(i, col); ok {
				row[idx] = parquet.ByteArrayValue([]byte(v)).Level(0, 1, idx)
			} else {
				row[idx] = parquet.NullValue().Level(0, 0, idx)
			}
		}
		rows = append(rows, row)
		if len(rows) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
