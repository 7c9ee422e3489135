// Package nodes turns a reference spreadsheet of pricing locations into a
// plain node list and loads that list back for ALL_NODES expansion.
package nodes

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
)

// DefaultColumn is the node id column of the CAISO location list.
const DefaultColumn = "name"

// CSVHeader is the single column written to the flat node list.
const CSVHeader = "Node Name"

// ErrLegacyWorkbook is returned for binary .xls workbooks, which cannot be
// read. Save the file as .xlsx or .csv first.
var ErrLegacyWorkbook = errors.New("legacy .xls workbooks are not supported; convert the file to .xlsx or .csv")

// ColumnNotFoundError is returned when the requested column is absent.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found; available columns: %s",
		e.Column, strings.Join(e.Available, ", "))
}

// Options selects what to read from the input.
type Options struct {
	Column string // default "name"
	Sheet  string // xlsx only; default is the first sheet
}

// Extract reads the node column from inputPath and writes the de-duplicated
// list to jsonPath and csvPath. Either output path may be empty to skip it.
func Extract(inputPath string, opts Options, jsonPath, csvPath string) ([]string, error) {
	log := logging.Component("nodes")

	list, err := Read(inputPath, opts)
	if err != nil {
		return nil, err
	}

	if jsonPath != "" {
		if err := WriteJSON(jsonPath, list); err != nil {
			return nil, err
		}
	}
	if csvPath != "" {
		if err := WriteCSV(csvPath, list); err != nil {
			return nil, err
		}
	}

	log.Info("node list extracted",
		"input", inputPath,
		"nodes", len(list),
		"json", jsonPath,
		"csv", csvPath,
	)
	return list, nil
}

// Read returns the non-blank values of the node column, de-duplicated in
// first-seen order. .xlsx files are read with excelize, .xls is rejected and
// anything else is parsed as CSV.
func Read(inputPath string, opts Options) ([]string, error) {
	if opts.Column == "" {
		opts.Column = DefaultColumn
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".xlsx", ".xlsm":
		rows, err = readSheet(inputPath, opts.Sheet)
	case ".xls":
		return nil, fmt.Errorf("read %s: %w", inputPath, ErrLegacyWorkbook)
	default:
		rows, err = readCSV(inputPath)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ColumnNotFoundError{Column: opts.Column}
	}

	col := -1
	for i, h := range rows[0] {
		if strings.TrimSpace(h) == opts.Column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, &ColumnNotFoundError{Column: opts.Column, Available: rows[0]}
	}

	return unique(rows[1:], col), nil
}

func unique(rows [][]string, col int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

// WriteJSON writes list as a JSON array indented by four spaces.
func WriteJSON(path string, list []string) error {
	if list == nil {
		list = []string{}
	}
	data, err := json.MarshalIndent(list, "", "    ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data)
}

// WriteCSV writes list as a one-column CSV with the CSVHeader header.
func WriteCSV(path string, list []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{CSVHeader}); err != nil {
		return err
	}
	for _, n := range list {
		if err := w.Write([]string{n}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, buf.Bytes())
}

// Load reads a node list written by WriteJSON.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node list: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse node list %s: %w", path, err)
	}
	return list, nil
}
